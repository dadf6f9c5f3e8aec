// Package fault classifies failures of the lifecycle core.
//
// Every operation returns plain Go errors; the kind travels with the error
// so callers can tell "nothing to do" from "provider refused" from
// "could not persist" without string matching.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is a failure category.
type Kind string

const (
	ProviderCallFailure Kind = "provider_call_failure"
	PersistenceFailure  Kind = "persistence_failure"
	MalformedTagData    Kind = "malformed_tag_data"
	PartialBatchFailure Kind = "partial_batch_failure"
)

// Error is a classified failure of a single operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provider wraps err as a ProviderCallFailure. A nil err yields nil.
func Provider(op string, err error) error {
	return wrap(ProviderCallFailure, op, err)
}

// Persistence wraps err as a PersistenceFailure. A nil err yields nil.
func Persistence(op string, err error) error {
	return wrap(PersistenceFailure, op, err)
}

// Malformed wraps err as MalformedTagData. A nil err yields nil.
func Malformed(op string, err error) error {
	return wrap(MalformedTagData, op, err)
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// BatchError reports the IDs of a batch call that the provider rejected.
type BatchError struct {
	Op       string
	Failures map[string]error
}

// NewBatchError returns nil when failures is empty.
func NewBatchError(op string, failures map[string]error) error {
	if len(failures) == 0 {
		return nil
	}
	return &BatchError{Op: op, Failures: failures}
}

func (b *BatchError) Error() string {
	parts := make([]string, 0, len(b.Failures))
	for _, id := range b.IDs() {
		parts = append(parts, fmt.Sprintf("%s: %v", id, b.Failures[id]))
	}
	return fmt.Sprintf("%s: %d failed (%s)", b.Op, len(b.Failures), strings.Join(parts, ", "))
}

// IDs returns the failed IDs in ascending order.
func (b *BatchError) IDs() []string {
	ids := make([]string, 0, len(b.Failures))
	for id := range b.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Unwrap exposes the per-ID causes to errors.Is and errors.As.
func (b *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(b.Failures))
	for _, id := range b.IDs() {
		errs = append(errs, b.Failures[id])
	}
	return errs
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	// A BatchError unwraps into classified causes; the batch wins when it is outside them.
	var batch *BatchError
	var classified *Error
	switch {
	case errors.As(err, &classified) && !isBatchOutside(err, classified):
		return classified.Kind, true
	case errors.As(err, &batch):
		return PartialBatchFailure, true
	}
	return "", false
}

// isBatchOutside reports whether a BatchError wraps the classified error,
// in which case the batch is the outer classification.
func isBatchOutside(err error, inner *Error) bool {
	var batch *BatchError
	if !errors.As(err, &batch) {
		return false
	}
	for _, cause := range batch.Unwrap() {
		var e *Error
		if errors.As(cause, &e) && e == inner {
			return true
		}
	}
	return false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
