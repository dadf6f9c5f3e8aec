// Package ttl decides when a tagged instance has outlived its time-to-live.
package ttl

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/ttlkeeper/internal/fault"
)

// Tag keys written at creation time and read back by the scanner.
const (
	TagCreationDate = "Creation_Date"
	TagCreationTime = "Creation_Time"
	TagTTL          = "TTL"
	TagName         = "Name"
	TagOwner        = "Owner"
)

// Wire formats of the creation tags: DD-MM-YYYY and HH:MM:SS.
const (
	DateLayout = "02-01-2006"
	TimeLayout = "15:04:05"
)

var (
	errMissingTag  = errors.New("missing tag")
	errNegativeTTL = errors.New("ttl must not be negative")
)

// MaxTTLMinutes is the largest TTL that fits in a time.Duration. Larger
// TTLs are clamped to MaxTTL, which puts expiry centuries out.
const (
	MaxTTLMinutes = math.MaxInt64 / int64(time.Minute)
	MaxTTL        = time.Duration(MaxTTLMinutes) * time.Minute
)

// Fields are the parsed expiry tags of one instance.
type Fields struct {
	CreatedAt time.Time
	TTL       time.Duration
}

// ExpiresAt is the instant after which the instance is expired.
func (f Fields) ExpiresAt() time.Time {
	return f.CreatedAt.Add(f.TTL)
}

// Codec converts between expiry tags and Fields.
// Creation tags carry no zone; Location says which one they were written in.
type Codec struct {
	Location *time.Location
}

// NewCodec returns a codec for loc. A nil loc means UTC.
func NewCodec(loc *time.Location) Codec {
	if loc == nil {
		loc = time.UTC
	}
	return Codec{Location: loc}
}

func (c Codec) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Parse extracts the creation instant and TTL from tags.
// Any missing key, unparsable value or negative TTL is MalformedTagData.
func (c Codec) Parse(tags map[string]string) (Fields, error) {
	date, err := lookup(tags, TagCreationDate)
	if err != nil {
		return Fields{}, err
	}
	timeOfDay, err := lookup(tags, TagCreationTime)
	if err != nil {
		return Fields{}, err
	}
	rawTTL, err := lookup(tags, TagTTL)
	if err != nil {
		return Fields{}, err
	}

	created, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+timeOfDay, c.location())
	if err != nil {
		return Fields{}, fault.Malformed("parse creation tags", err)
	}

	ttl, err := parseTTL(rawTTL)
	if err != nil {
		return Fields{}, err
	}

	return Fields{
		CreatedAt: created,
		TTL:       ttl,
	}, nil
}

// Format renders the expiry tags for an instance created at created with a TTL of minutes.
func (c Codec) Format(created time.Time, minutes int) map[string]string {
	local := created.In(c.location())
	return map[string]string{
		TagCreationDate: local.Format(DateLayout),
		TagCreationTime: local.Format(TimeLayout),
		TagTTL:          strconv.Itoa(minutes),
	}
}

// parseTTL reads whole minutes. Values past MaxTTLMinutes, including ones
// beyond int64, clamp to MaxTTL instead of wrapping into the past.
func parseTTL(raw string) (time.Duration, error) {
	minutes, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) && minutes > 0 {
			return MaxTTL, nil
		}
		return 0, fault.Malformed("parse ttl tag", err)
	}
	if minutes < 0 {
		return 0, fault.Malformed("parse ttl tag", fmt.Errorf("%w: %d", errNegativeTTL, minutes))
	}
	if minutes > MaxTTLMinutes {
		return MaxTTL, nil
	}
	return time.Duration(minutes) * time.Minute, nil
}

func lookup(tags map[string]string, key string) (string, error) {
	v, ok := tags[key]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", fault.Malformed("parse expiry tags", fmt.Errorf("%w: %s", errMissingTag, key))
	}
	return v, nil
}
