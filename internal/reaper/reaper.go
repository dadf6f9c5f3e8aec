// Package reaper terminates the instances on the delete list.
package reaper

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/yairfalse/ttlkeeper/internal/fault"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// Terminator ends instances in one batch call.
type Terminator interface {
	Terminate(ctx context.Context, ids []string) ([]resource.Outcome, error)
}

// Store is the part of the delete list the reaper reads and rewrites.
type Store interface {
	Get(ctx context.Context) (resource.IDSet, error)
	Replace(ctx context.Context, ids resource.IDSet) error
}

// Result summarises one reap.
type Result struct {
	Requested  resource.IDSet `json:"requested"`
	Terminated resource.IDSet `json:"terminated"`
	Rejected   resource.IDSet `json:"rejected"`
	Remaining  resource.IDSet `json:"remaining"`
	DryRun     bool           `json:"dry_run"`
	Duration   time.Duration  `json:"duration"`
}

// Reaper drains the delete list.
type Reaper struct {
	terminator Terminator
	store      Store
	dryRun     bool
	clock      clock.Clock
	logger     zerolog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithDryRun makes Reap report what it would terminate without calling the provider.
func WithDryRun(dryRun bool) Option {
	return func(r *Reaper) {
		r.dryRun = dryRun
	}
}

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(r *Reaper) {
		r.clock = c
	}
}

// New creates a reaper.
func New(terminator Terminator, store Store, logger zerolog.Logger, opts ...Option) *Reaper {
	r := &Reaper{
		terminator: terminator,
		store:      store,
		clock:      clock.New(),
		logger:     logger.With().Str("component", "reaper").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reap terminates every ID on the delete list with a single provider call.
//
// The store is only rewritten after the provider accepted the call. IDs the
// provider confirmed are removed; IDs it rejected one by one stay on the list
// and come back as a *fault.BatchError next to a valid Result. When the call
// itself fails the list is left exactly as it was.
func (r *Reaper) Reap(ctx context.Context) (*Result, error) {
	start := r.clock.Now()

	ids, err := r.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Requested:  ids,
		Terminated: resource.NewIDSet(),
		Rejected:   resource.NewIDSet(),
		Remaining:  ids,
		DryRun:     r.dryRun,
	}

	if ids.Len() == 0 {
		r.logger.Info().Msg("there is no expired instance in the list")
		return r.finish(result, start), nil
	}

	if r.dryRun {
		r.logger.Info().Strs("ids", ids.Sorted()).Msg("dry run, would terminate instances")
		return r.finish(result, start), nil
	}

	r.logger.Info().Strs("ids", ids.Sorted()).Msg("terminating expired instances")
	outcomes, err := r.terminator.Terminate(ctx, ids.Sorted())
	if err != nil {
		r.logger.Error().Err(err).Strs("ids", ids.Sorted()).Msg("unable to terminate instances, delete list unchanged")
		return nil, err
	}

	failures := make(map[string]error)
	for _, o := range outcomes {
		if o.OK() {
			result.Terminated.Add(o.ID)
			continue
		}
		failures[o.ID] = o.Err
		result.Rejected.Add(o.ID)
	}
	// IDs missing from the outcomes were never confirmed.
	for id := range ids.Difference(result.Terminated).Difference(result.Rejected) {
		failures[id] = errNoOutcome
		result.Rejected.Add(id)
	}

	remaining := ids.Difference(result.Terminated)
	if err := r.store.Replace(ctx, remaining); err != nil {
		r.logger.Error().Err(err).Strs("terminated", result.Terminated.Sorted()).
			Msg("instances terminated but delete list could not be updated")
		return nil, err
	}
	result.Remaining = remaining

	batchErr := fault.NewBatchError("terminate instances", failures)
	if batchErr != nil {
		r.logger.Error().Err(batchErr).Strs("rejected", result.Rejected.Sorted()).Msg("some instances were not terminated, kept on the delete list")
	}
	return r.finish(result, start), batchErr
}

func (r *Reaper) finish(result *Result, start time.Time) *Result {
	result.Duration = r.clock.Since(start)

	r.logger.Info().
		Int("requested", result.Requested.Len()).
		Int("terminated", result.Terminated.Len()).
		Int("rejected", result.Rejected.Len()).
		Int("remaining", result.Remaining.Len()).
		Bool("dry_run", result.DryRun).
		Dur("duration", result.Duration).
		Msg("reap complete")

	return result
}
