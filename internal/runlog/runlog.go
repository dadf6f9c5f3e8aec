// Package runlog owns the per-run log file: a rotated local file mirrored to
// the console, archived to S3 when the run ends.
package runlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// S3API defines the S3 operations used to archive the log.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config controls the log file and its archival.
type Config struct {
	File       string
	Level      zerolog.Level
	MaxSizeMB  int
	MaxBackups int
	Console    io.Writer // defaults to os.Stderr
	NoConsole  bool

	ArchiveEnabled bool
	ArchiveBucket  string
	ArchiveKey     string
}

// Session is one run's logging. Close it on every exit path; the logger
// must not be used afterwards or the file is reopened.
type Session struct {
	cfg      Config
	file     *lumberjack.Logger
	logger   zerolog.Logger
	uploader S3API
	earlier  map[string]bool // backups that predate this run
	closed   bool
}

// Open starts a fresh log file for this run. An existing file is rotated
// away so the file only holds this run's entries.
func Open(cfg Config, uploader S3API) (*Session, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("log file path is required")
	}
	if cfg.ArchiveEnabled && (cfg.ArchiveBucket == "" || cfg.ArchiveKey == "") {
		return nil, fmt.Errorf("archive bucket and key are required when archival is enabled")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	if _, err := os.Stat(cfg.File); err == nil {
		if err := file.Rotate(); err != nil {
			return nil, fmt.Errorf("rotate log file: %w", err)
		}
	}

	var out io.Writer = file
	if !cfg.NoConsole {
		console := cfg.Console
		if console == nil {
			console = os.Stderr
		}
		out = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
	}

	logger := zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()

	backups, err := listBackups(cfg.File)
	if err != nil {
		return nil, err
	}
	earlier := make(map[string]bool, len(backups))
	for _, path := range backups {
		earlier[path] = true
	}

	return &Session{
		cfg:      cfg,
		file:     file,
		logger:   logger,
		uploader: uploader,
		earlier:  earlier,
	}, nil
}

// Logger returns the run logger.
func (s *Session) Logger() zerolog.Logger {
	return s.logger
}

// Path returns the local log file path.
func (s *Session) Path() string {
	return s.cfg.File
}

// Close releases the log file and then uploads it when archival is enabled.
// The file is released even if the upload fails. Calling Close twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.cfg.ArchiveEnabled && s.uploader != nil {
		s.logger.Info().Str("bucket", s.cfg.ArchiveBucket).Str("key", s.cfg.ArchiveKey).Msg("uploading run log")
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	if !s.cfg.ArchiveEnabled || s.uploader == nil {
		return nil
	}
	return s.upload(ctx)
}

// upload archives every segment this run wrote. A run that outgrows
// MaxSizeMB is rotated mid-run; its backups are concatenated in order ahead
// of the live file. Segments pruned by MaxBackups are gone and not uploaded.
func (s *Session) upload(ctx context.Context) error {
	segments, err := s.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		// nothing was logged
		return nil
	}

	var body bytes.Buffer
	for _, path := range segments {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read log segment %s: %w", path, err)
		}
		body.Write(data)
	}

	_, err = s.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.ArchiveBucket),
		Key:         aws.String(s.cfg.ArchiveKey),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("upload log to s3://%s/%s: %w", s.cfg.ArchiveBucket, s.cfg.ArchiveKey, err)
	}
	return nil
}

// segments lists this run's log files oldest first: rotated backups written
// since Open, then the live file.
func (s *Session) segments() ([]string, error) {
	backups, err := listBackups(s.cfg.File)
	if err != nil {
		return nil, err
	}

	var segments []string
	for _, path := range backups {
		if !s.earlier[path] {
			segments = append(segments, path)
		}
	}
	if _, err := os.Stat(s.cfg.File); err == nil {
		segments = append(segments, s.cfg.File)
	}
	return segments, nil
}

// listBackups returns lumberjack's rotated copies of file, oldest first.
// Backups are named <name>-<timestamp><ext> and the timestamp sorts lexically.
func listBackups(file string) ([]string, error) {
	ext := filepath.Ext(file)
	prefix := strings.TrimSuffix(file, ext) + "-"

	backups, err := filepath.Glob(prefix + "*" + ext)
	if err != nil {
		return nil, fmt.Errorf("list log segments: %w", err)
	}
	sort.Strings(backups)
	return backups, nil
}
