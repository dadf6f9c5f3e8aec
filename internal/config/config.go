// Package config handles TOML and YAML configuration for ttlkeeper.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // timezones resolve on hosts without a zoneinfo database

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Delete list backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendBolt     = "bolt"
)

// Config is the root configuration structure.
type Config struct {
	AWS        AWSConfig        `toml:"aws" yaml:"aws"`
	DeleteList DeleteListConfig `toml:"delete_list" yaml:"delete_list"`
	TTL        TTLConfig        `toml:"ttl" yaml:"ttl"`
	Instances  InstancesConfig  `toml:"instances" yaml:"instances"`
	Log        LogConfig        `toml:"log" yaml:"log"`
	Scan       ScanConfig       `toml:"scan" yaml:"scan"`
	Daemon     DaemonConfig     `toml:"daemon" yaml:"daemon"`
	OTEL       OTELConfig       `toml:"otel" yaml:"otel"`
}

// AWSConfig holds AWS provider settings. One region per invocation.
type AWSConfig struct {
	Region  string `toml:"region" yaml:"region"`
	Profile string `toml:"profile" yaml:"profile"`
}

// DeleteListConfig locates the delete list record.
type DeleteListConfig struct {
	Backend   string `toml:"backend" yaml:"backend"`
	Table     string `toml:"table" yaml:"table"`
	KeyAttr   string `toml:"key_attr" yaml:"key_attr"`
	Key       string `toml:"key" yaml:"key"`
	ValueAttr string `toml:"value_attr" yaml:"value_attr"`
	BoltPath  string `toml:"bolt_path" yaml:"bolt_path"`
}

// TTLConfig holds expiry settings.
type TTLConfig struct {
	DefaultMinutes  int    `toml:"default_minutes" yaml:"default_minutes"`
	MalformedPolicy string `toml:"malformed_policy" yaml:"malformed_policy"`
	Timezone        string `toml:"timezone" yaml:"timezone"`

	Location *time.Location `toml:"-" yaml:"-"`
}

// InstancesConfig describes instances launched by create.
type InstancesConfig struct {
	AMI              string   `toml:"ami" yaml:"ami"`
	Type             string   `toml:"type" yaml:"type"`
	KeyName          string   `toml:"key_name" yaml:"key_name"`
	SubnetID         string   `toml:"subnet_id" yaml:"subnet_id"`
	SecurityGroupIDs []string `toml:"security_group_ids" yaml:"security_group_ids"`
	Count            int      `toml:"count" yaml:"count"`
}

// LogConfig holds logging and log archival settings.
type LogConfig struct {
	Level          string `toml:"level" yaml:"level"`
	File           string `toml:"file" yaml:"file"`
	MaxSizeMB      int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups     int    `toml:"max_backups" yaml:"max_backups"`
	ArchiveEnabled bool   `toml:"archive_enabled" yaml:"archive_enabled"`
	ArchiveBucket  string `toml:"archive_bucket" yaml:"archive_bucket"`
	ArchiveKey     string `toml:"archive_key" yaml:"archive_key"`
}

// ScanConfig narrows which running instances are evaluated.
// Instances matching any exclude tag are never flagged.
type ScanConfig struct {
	IncludeTags map[string]string `toml:"include_tags" yaml:"include_tags"`
	ExcludeTags map[string]string `toml:"exclude_tags" yaml:"exclude_tags"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics push settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// DaemonConfig holds scheduled mode settings.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval" yaml:"interval"`
	Interval    time.Duration `toml:"-" yaml:"-"`
	MetricsAddr string        `toml:"metrics_addr" yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Log: LogConfig{ArchiveEnabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads a TOML (.toml) or YAML (.yaml, .yml) config file and applies defaults.
// Archival is on unless the file turns it off.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Log: LogConfig{ArchiveEnabled: true}}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .toml, .yaml or .yml)", ext)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "il-central-1"
	}
	if cfg.DeleteList.Backend == "" {
		cfg.DeleteList.Backend = BackendDynamoDB
	}
	if cfg.DeleteList.Table == "" {
		cfg.DeleteList.Table = "For_Delete"
	}
	if cfg.DeleteList.KeyAttr == "" {
		cfg.DeleteList.KeyAttr = "delete_list"
	}
	if cfg.DeleteList.Key == "" {
		cfg.DeleteList.Key = "instances_list"
	}
	if cfg.DeleteList.ValueAttr == "" {
		cfg.DeleteList.ValueAttr = "ids"
	}
	if cfg.DeleteList.BoltPath == "" {
		cfg.DeleteList.BoltPath = "ttlkeeper.db"
	}
	if cfg.TTL.DefaultMinutes == 0 {
		cfg.TTL.DefaultMinutes = 3
	}
	if cfg.TTL.MalformedPolicy == "" {
		cfg.TTL.MalformedPolicy = "delete"
	}
	if cfg.TTL.Timezone == "" {
		cfg.TTL.Timezone = "UTC"
	}
	if cfg.Instances.Type == "" {
		cfg.Instances.Type = "t3.micro"
	}
	if cfg.Instances.Count == 0 {
		cfg.Instances.Count = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "ttlkeeper.log"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.ArchiveBucket == "" {
		cfg.Log.ArchiveBucket = "aws-manager-logs"
	}
	if cfg.Log.ArchiveKey == "" {
		cfg.Log.ArchiveKey = "logs/aws-manager.log"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "10m"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "ttlkeeper"
	}
}

// Validate checks the configuration and resolves derived fields.
// Call it once, after flags have been applied.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws: region required")
	}

	switch c.DeleteList.Backend {
	case BackendDynamoDB:
		if c.DeleteList.Table == "" {
			return fmt.Errorf("delete_list: table required for dynamodb backend")
		}
	case BackendBolt:
		if c.DeleteList.BoltPath == "" {
			return fmt.Errorf("delete_list: bolt_path required for bolt backend")
		}
	default:
		return fmt.Errorf("delete_list: unknown backend %q (must be dynamodb or bolt)", c.DeleteList.Backend)
	}

	if c.TTL.DefaultMinutes < 0 {
		return fmt.Errorf("ttl: default_minutes must not be negative (got %d)", c.TTL.DefaultMinutes)
	}
	switch strings.ToLower(c.TTL.MalformedPolicy) {
	case "delete", "review":
	default:
		return fmt.Errorf("ttl: malformed_policy must be delete or review (got %q)", c.TTL.MalformedPolicy)
	}
	loc, err := time.LoadLocation(c.TTL.Timezone)
	if err != nil {
		return fmt.Errorf("ttl: timezone %q: %w", c.TTL.Timezone, err)
	}
	c.TTL.Location = loc

	if c.Instances.Count < 1 || c.Instances.Count > math.MaxInt32 {
		return fmt.Errorf("instances: count must be between 1 and %d (got %d)", math.MaxInt32, c.Instances.Count)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: level %q: %w", c.Log.Level, err)
	}
	if c.Log.ArchiveEnabled && (c.Log.ArchiveBucket == "" || c.Log.ArchiveKey == "") {
		return fmt.Errorf("log: archive_bucket and archive_key required when archival is enabled")
	}

	d, err := time.ParseDuration(c.Daemon.IntervalStr)
	if err != nil {
		return fmt.Errorf("daemon: parse interval %q: %w", c.Daemon.IntervalStr, err)
	}
	if d <= 0 {
		return fmt.Errorf("daemon: interval must be positive (got %s)", d)
	}
	c.Daemon.Interval = d

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if (c.OTEL.Traces.Enabled || c.OTEL.Metrics.Enabled) && c.OTEL.Endpoint == "" {
		return fmt.Errorf("otel: endpoint required when traces or metrics are enabled")
	}

	return nil
}

// ValidateLaunch checks the fields only create needs.
func (c *Config) ValidateLaunch() error {
	if c.Instances.AMI == "" {
		return fmt.Errorf("instances: ami required to create instances")
	}
	if c.Instances.Type == "" {
		return fmt.Errorf("instances: type required to create instances")
	}
	return nil
}

// LogLevel returns the parsed log level, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
