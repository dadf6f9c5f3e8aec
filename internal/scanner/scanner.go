// Package scanner finds running instances that belong on the delete list.
package scanner

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/yairfalse/ttlkeeper/internal/filter"
	"github.com/yairfalse/ttlkeeper/internal/ttl"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// Lister returns the instances currently running.
type Lister interface {
	ListRunning(ctx context.Context) ([]resource.Resource, error)
}

// Store is the part of the delete list the scanner writes to.
type Store interface {
	MergeAdd(ctx context.Context, ids resource.IDSet) (resource.IDSet, error)
}

// Result summarises one scan.
type Result struct {
	ScannedAt    time.Time           `json:"scanned_at"`
	Scanned      int                 `json:"scanned"`
	Excluded     int                 `json:"excluded"`
	Verdicts     map[ttl.Verdict]int `json:"-"`
	NewlyFlagged resource.IDSet      `json:"newly_flagged"`
	// Review holds malformed instances kept off the list for manual review.
	Review []string `json:"review,omitempty"`
	// DeleteList is the stored list after the merge; nil when nothing was written.
	DeleteList resource.IDSet `json:"delete_list"`
	Written    bool           `json:"written"`
	Duration   time.Duration  `json:"duration"`
}

// Count returns how many instances got verdict v.
func (r *Result) Count(v ttl.Verdict) int {
	return r.Verdicts[v]
}

// Scanner evaluates running instances and records the deletable ones.
type Scanner struct {
	lister    Lister
	store     Store
	evaluator *ttl.Evaluator
	filter    *filter.Filter
	clock     clock.Clock
	logger    zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scanner) {
		s.clock = c
	}
}

// WithFilter skips instances the tag filter rejects before evaluation.
func WithFilter(f *filter.Filter) Option {
	return func(s *Scanner) {
		s.filter = f
	}
}

// New creates a scanner.
func New(lister Lister, store Store, evaluator *ttl.Evaluator, logger zerolog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		lister:    lister,
		store:     store,
		evaluator: evaluator,
		clock:     clock.New(),
		logger:    logger.With().Str("component", "scanner").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs a scan at the current clock time.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	return s.ScanAt(ctx, s.clock.Now())
}

// ScanAt lists running instances, evaluates each at now and merges the
// deletable ones into the delete list. A listing failure aborts the scan
// before the store is touched. Nothing is written when no instance is flagged.
func (s *Scanner) ScanAt(ctx context.Context, now time.Time) (*Result, error) {
	start := s.clock.Now()
	result := &Result{
		ScannedAt:    now,
		Verdicts:     make(map[ttl.Verdict]int),
		NewlyFlagged: resource.NewIDSet(),
	}

	s.logger.Info().Time("now", now).Msg("checking instance TTLs")

	instances, err := s.lister.ListRunning(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("unable to list running instances")
		return nil, err
	}
	instances, skipped := s.filter.Apply(instances)
	for _, inst := range skipped {
		s.logger.Debug().Str("instance_id", inst.ID).Msg("instance excluded by tag filter")
	}
	result.Scanned = len(instances)
	result.Excluded = len(skipped)

	for _, inst := range instances {
		s.classify(inst, now, result)
	}

	if result.NewlyFlagged.Len() == 0 {
		s.logger.Info().Int("scanned", result.Scanned).Msg("no instances added to delete list")
		return s.finish(result, start), nil
	}

	s.logger.Info().Strs("ids", result.NewlyFlagged.Sorted()).Msg("adding instances to delete list")
	merged, err := s.store.MergeAdd(ctx, result.NewlyFlagged)
	if err != nil {
		return nil, err
	}
	result.DeleteList = merged
	result.Written = true

	return s.finish(result, start), nil
}

func (s *Scanner) classify(inst resource.Resource, now time.Time, result *Result) {
	eval := s.evaluator.Evaluate(inst.Tags, now)
	result.Verdicts[eval.Verdict]++

	event := s.logger.Debug()
	switch eval.Verdict {
	case ttl.Expired:
		event = s.logger.Info().Time("expired_at", eval.ExpiresAt)
	case ttl.Untagged:
		event = s.logger.Error().Bool("anomaly", true)
	case ttl.Malformed:
		event = s.logger.Error().Bool("anomaly", true).Err(eval.Err)
	case ttl.Alive:
		event = event.Time("expires_at", eval.ExpiresAt)
	}
	event.Str("instance_id", inst.ID).
		Str("name", inst.Name()).
		Str("verdict", eval.Verdict.String()).
		Bool("deletable", eval.Deletable).
		Msg("evaluated instance")

	if eval.Deletable {
		result.NewlyFlagged.Add(inst.ID)
	} else if eval.Verdict == ttl.Malformed {
		result.Review = append(result.Review, inst.ID)
	}
}

func (s *Scanner) finish(result *Result, start time.Time) *Result {
	result.Duration = s.clock.Since(start)

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("excluded", result.Excluded).
		Int("flagged", result.NewlyFlagged.Len()).
		Int("expired", result.Count(ttl.Expired)).
		Int("untagged", result.Count(ttl.Untagged)).
		Int("malformed", result.Count(ttl.Malformed)).
		Strs("review", result.Review).
		Bool("written", result.Written).
		Dur("duration", result.Duration).
		Msg("scan complete")

	return result
}
