package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ttlkeeper/internal/config"
	"github.com/yairfalse/ttlkeeper/internal/deletelist"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"separate args", []string{"i-1", "i-2"}, []string{"i-1", "i-2"}},
		{"comma separated", []string{"i-1,i-2, i-3"}, []string{"i-1", "i-2", "i-3"}},
		{"mixed with duplicates", []string{"i-1,i-2", "i-2", "i-3,"}, []string{"i-1", "i-2", "i-3"}},
		{"blank", []string{" , "}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitIDs(tt.args))
		})
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttlkeeper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[aws]
region = "eu-west-1"

[log]
level = "warn"
`), 0644))

	cfg, err := loadConfig(path, overrides{
		Region:    "us-east-2",
		Backend:   "bolt",
		Debug:     true,
		LogFile:   "/tmp/run.log",
		NoArchive: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "us-east-2", cfg.AWS.Region)
	assert.Equal(t, config.BackendBolt, cfg.DeleteList.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/run.log", cfg.Log.File)
	assert.False(t, cfg.Log.ArchiveEnabled)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig("", overrides{})

	require.NoError(t, err)
	assert.Equal(t, "il-central-1", cfg.AWS.Region)
	assert.True(t, cfg.Log.ArchiveEnabled)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	_, err := loadConfig("", overrides{Backend: "redis"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestListCommand_BoltBackend(t *testing.T) {
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ttlkeeper.db")

	b, err := deletelist.OpenBolt(dbPath, "")
	require.NoError(t, err)
	require.NoError(t, b.Save(context.Background(), resource.NewIDSet("i-2", "i-1")))
	require.NoError(t, b.Close())

	cfgPath := filepath.Join(dir, "ttlkeeper.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
delete_list:
  backend: bolt
  bolt_path: %s
`, dbPath)), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"list",
		"--config", cfgPath,
		"--no-archive",
		"--log-file", filepath.Join(dir, "run.log"),
	})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Equal(t, "i-1\ni-2\n", out.String())
	assert.FileExists(t, filepath.Join(dir, "run.log"))
}
