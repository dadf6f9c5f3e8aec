package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEvaluate_Boundary(t *testing.T) {
	e := NewEvaluator(NewCodec(nil), MalformedDelete)
	expiry := created.Add(3 * time.Minute)

	atExpiry := e.Evaluate(validTags(), expiry)
	assert.Equal(t, Alive, atExpiry.Verdict)
	assert.False(t, atExpiry.Deletable)
	assert.Equal(t, expiry, atExpiry.ExpiresAt)

	oneMinuteLater := e.Evaluate(validTags(), expiry.Add(time.Minute))
	assert.Equal(t, Expired, oneMinuteLater.Verdict)
	assert.True(t, oneMinuteLater.Deletable)

	oneNanoLater := e.Evaluate(validTags(), expiry.Add(time.Nanosecond))
	assert.Equal(t, Expired, oneNanoLater.Verdict)
}

func TestEvaluate_Scenario(t *testing.T) {
	e := NewEvaluator(NewCodec(nil), "")

	assert.Equal(t, Alive, e.Evaluate(validTags(), time.Date(2024, 1, 1, 0, 2, 59, 0, time.UTC)).Verdict)
	assert.Equal(t, Expired, e.Evaluate(validTags(), time.Date(2024, 1, 1, 0, 3, 1, 0, time.UTC)).Verdict)
}

func TestEvaluate_Untagged(t *testing.T) {
	e := NewEvaluator(NewCodec(nil), MalformedReview)

	for _, tags := range []map[string]string{nil, {}} {
		ev := e.Evaluate(tags, created)
		assert.Equal(t, Untagged, ev.Verdict)
		assert.True(t, ev.Deletable)
		assert.True(t, ev.Verdict.Anomalous())
	}
}

func TestEvaluate_HugeTTLStaysAlive(t *testing.T) {
	tags := validTags()
	tags[TagTTL] = "200000000"
	e := NewEvaluator(NewCodec(nil), MalformedDelete)

	eval := e.Evaluate(tags, created.Add(time.Minute))

	assert.Equal(t, Alive, eval.Verdict)
	assert.False(t, eval.Deletable)
	assert.True(t, eval.ExpiresAt.After(created.AddDate(290, 0, 0)))
}

func TestEvaluate_Malformed(t *testing.T) {
	tags := map[string]string{TagName: "no-ttl-here"}

	deleting := NewEvaluator(NewCodec(nil), MalformedDelete).Evaluate(tags, created)
	assert.Equal(t, Malformed, deleting.Verdict)
	assert.True(t, deleting.Deletable)
	require.Error(t, deleting.Err)

	reviewing := NewEvaluator(NewCodec(nil), MalformedReview).Evaluate(tags, created)
	assert.Equal(t, Malformed, reviewing.Verdict)
	assert.False(t, reviewing.Deletable)
	assert.True(t, reviewing.Verdict.Anomalous())
}

func TestParseMalformedPolicy(t *testing.T) {
	p, err := ParseMalformedPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MalformedDelete, p)

	p, err = ParseMalformedPolicy(" Review ")
	require.NoError(t, err)
	assert.Equal(t, MalformedReview, p)

	_, err = ParseMalformedPolicy("ignore")
	assert.Error(t, err)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "alive", Alive.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "untagged", Untagged.String())
	assert.Equal(t, "malformed", Malformed.String())
	assert.Equal(t, "verdict(9)", Verdict(9).String())
	assert.False(t, Expired.Anomalous())
}
