// Package deletelist persists the set of instance IDs waiting for termination.
//
// The list lives under a single logical key and every write replaces it
// whole. There is no cross-process locking: a scan and a reap that overlap
// can each read the old list and the later write wins, dropping the other's
// update. Run them as non-overlapping scheduled invocations.
package deletelist

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/ttlkeeper/internal/fault"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// DefaultKey is the logical key of the delete list record.
const DefaultKey = "instances_list"

// Backend reads and writes the single delete list record.
type Backend interface {
	// Load returns the stored set and whether a record exists.
	Load(ctx context.Context) (resource.IDSet, bool, error)
	// Save replaces the record with ids.
	Save(ctx context.Context, ids resource.IDSet) error
	// Name identifies the backend in logs.
	Name() string
}

// Store is the delete list with set semantics on top of a Backend.
type Store struct {
	backend Backend
	logger  zerolog.Logger
}

// New creates a store over backend.
func New(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "deletelist").Str("backend", backend.Name()).Logger(),
	}
}

// Get returns the current set. A missing record is an empty set, not an error.
func (s *Store) Get(ctx context.Context) (resource.IDSet, error) {
	ids, found, err := s.backend.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read delete list")
		return nil, fault.Persistence("get delete list", err)
	}
	if !found || ids == nil {
		s.logger.Debug().Msg("delete list record not found, treating as empty")
		return resource.NewIDSet(), nil
	}
	s.logger.Debug().Strs("ids", ids.Sorted()).Msg("read delete list")
	return ids, nil
}

// Replace overwrites the stored set with ids.
func (s *Store) Replace(ctx context.Context, ids resource.IDSet) error {
	if ids == nil {
		ids = resource.NewIDSet()
	}
	if err := s.backend.Save(ctx, ids); err != nil {
		s.logger.Error().Err(err).Strs("ids", ids.Sorted()).Msg("failed to update delete list")
		return fault.Persistence("replace delete list", err)
	}
	s.logger.Info().Strs("ids", ids.Sorted()).Msg("delete list updated")
	return nil
}

// MergeAdd stores Get() ∪ additional and returns the merged set.
// Calling it with an empty set rewrites the current content unchanged.
func (s *Store) MergeAdd(ctx context.Context, additional resource.IDSet) (resource.IDSet, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	merged := current.Union(additional)
	if err := s.Replace(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
