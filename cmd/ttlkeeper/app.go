package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/yairfalse/ttlkeeper/internal/config"
	"github.com/yairfalse/ttlkeeper/internal/deletelist"
	awsprovider "github.com/yairfalse/ttlkeeper/internal/provider/aws"
	"github.com/yairfalse/ttlkeeper/internal/runlog"
	"github.com/yairfalse/ttlkeeper/internal/ttl"
)

// overrides are the persistent flags that take precedence over the config file.
type overrides struct {
	Region    string
	Profile   string
	Backend   string
	Debug     bool
	LogFile   string
	NoArchive bool
}

func currentOverrides() overrides {
	return overrides{
		Region:    region,
		Profile:   profile,
		Backend:   backend,
		Debug:     debug,
		LogFile:   logFile,
		NoArchive: noArchive,
	}
}

// loadConfig reads the config file (or defaults), applies flags and validates once.
func loadConfig(path string, o overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.Region != "" {
		cfg.AWS.Region = o.Region
	}
	if o.Profile != "" {
		cfg.AWS.Profile = o.Profile
	}
	if o.Backend != "" {
		cfg.DeleteList.Backend = o.Backend
	}
	if o.Debug {
		cfg.Log.Level = "debug"
	}
	if o.LogFile != "" {
		cfg.Log.File = o.LogFile
	}
	if o.NoArchive {
		cfg.Log.ArchiveEnabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app is everything one invocation needs, built once and passed down.
type app struct {
	cfg       *config.Config
	awsCfg    aws.Config
	session   *runlog.Session
	logger    zerolog.Logger
	compute   *awsprovider.Compute
	store     *deletelist.Store
	evaluator *ttl.Evaluator
	codec     ttl.Codec
	closers   []func() error
}

// newApp wires the invocation. The caller must call Close on every exit path.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	awsCfg, err := awsprovider.LoadConfig(ctx, cfg.AWS.Region, cfg.AWS.Profile)
	if err != nil {
		return nil, err
	}

	session, err := runlog.Open(runlog.Config{
		File:           cfg.Log.File,
		Level:          cfg.LogLevel(),
		MaxSizeMB:      cfg.Log.MaxSizeMB,
		MaxBackups:     cfg.Log.MaxBackups,
		ArchiveEnabled: cfg.Log.ArchiveEnabled,
		ArchiveBucket:  cfg.Log.ArchiveBucket,
		ArchiveKey:     cfg.Log.ArchiveKey,
	}, s3.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}

	logger := session.Logger().With().Str("region", cfg.AWS.Region).Logger()
	a := &app{
		cfg:     cfg,
		awsCfg:  awsCfg,
		session: session,
		logger:  logger,
		compute: awsprovider.NewFromConfig(awsCfg, logger),
		codec:   ttl.NewCodec(cfg.TTL.Location),
	}

	policy, err := ttl.ParseMalformedPolicy(cfg.TTL.MalformedPolicy)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.evaluator = ttl.NewEvaluator(a.codec, policy)

	backend, err := a.openBackend()
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.store = deletelist.New(backend, logger)

	logger.Info().
		Str("backend", backend.Name()).
		Str("malformed_policy", string(policy)).
		Bool("archive", cfg.Log.ArchiveEnabled).
		Msg("run started")
	return a, nil
}

func (a *app) openBackend() (deletelist.Backend, error) {
	dl := a.cfg.DeleteList
	switch dl.Backend {
	case config.BackendBolt:
		b, err := deletelist.OpenBolt(dl.BoltPath, dl.Key)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close)
		return b, nil
	case config.BackendDynamoDB:
		return deletelist.NewDynamoDB(dynamodb.NewFromConfig(a.awsCfg), deletelist.DynamoDBConfig{
			Table:     dl.Table,
			KeyAttr:   dl.KeyAttr,
			Key:       dl.Key,
			ValueAttr: dl.ValueAttr,
		}), nil
	default:
		return nil, fmt.Errorf("unknown delete list backend %q", dl.Backend)
	}
}

// Close releases resources, then closes (and archives) the run log last.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.session.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withApp builds the app for a command and guarantees it is closed.
func withApp(ctx context.Context, fn func(*app) error) (err error) {
	cfg, err := loadConfig(configPath, currentOverrides())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		// The upload gets its own context so an interrupted run still archives its log.
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(a)
}

// splitIDs accepts IDs as separate args or comma-separated, dropping blanks and duplicates.
func splitIDs(args []string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, arg := range args {
		for _, id := range strings.Split(arg, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
