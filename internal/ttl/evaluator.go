package ttl

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the expiry classification of one instance.
type Verdict int

const (
	Alive Verdict = iota
	Expired
	Untagged
	Malformed
)

func (v Verdict) String() string {
	switch v {
	case Alive:
		return "alive"
	case Expired:
		return "expired"
	case Untagged:
		return "untagged"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Anomalous reports whether the verdict signals tagging drift.
func (v Verdict) Anomalous() bool {
	return v == Untagged || v == Malformed
}

// MalformedPolicy says what happens to instances whose expiry tags do not parse.
type MalformedPolicy string

const (
	// MalformedDelete treats malformed tags like no tags: the instance goes on the delete list.
	MalformedDelete MalformedPolicy = "delete"
	// MalformedReview keeps the instance off the delete list and reports it for manual review.
	MalformedReview MalformedPolicy = "review"
)

// ParseMalformedPolicy accepts "delete" or "review" (case-insensitive). Empty means delete.
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch p := MalformedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MalformedDelete, nil
	case MalformedDelete, MalformedReview:
		return p, nil
	default:
		return "", fmt.Errorf("unknown malformed policy %q (must be delete or review)", s)
	}
}

// Evaluation is the result of evaluating one instance's tags.
type Evaluation struct {
	Verdict   Verdict
	ExpiresAt time.Time // zero unless the tags parsed
	Deletable bool      // whether the instance belongs on the delete list
	Err       error     // parse failure for Malformed
}

// Evaluator classifies instances by their tags.
type Evaluator struct {
	codec  Codec
	policy MalformedPolicy
}

// NewEvaluator creates an evaluator. An empty policy means MalformedDelete.
func NewEvaluator(codec Codec, policy MalformedPolicy) *Evaluator {
	if policy == "" {
		policy = MalformedDelete
	}
	return &Evaluator{codec: codec, policy: policy}
}

// Policy returns the malformed-tag policy in effect.
func (e *Evaluator) Policy() MalformedPolicy {
	return e.policy
}

// Evaluate classifies tags at instant now.
// Expired is strict: an instance whose expiry equals now is still alive.
func (e *Evaluator) Evaluate(tags map[string]string, now time.Time) Evaluation {
	if len(tags) == 0 {
		return Evaluation{Verdict: Untagged, Deletable: true}
	}

	fields, err := e.codec.Parse(tags)
	if err != nil {
		return Evaluation{
			Verdict:   Malformed,
			Deletable: e.policy == MalformedDelete,
			Err:       err,
		}
	}

	expiresAt := fields.ExpiresAt()
	if now.After(expiresAt) {
		return Evaluation{Verdict: Expired, ExpiresAt: expiresAt, Deletable: true}
	}
	return Evaluation{Verdict: Alive, ExpiresAt: expiresAt}
}
