// Package ids provides the identifier primitives used by the tasklink gateway.
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars) stamped with now.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewCommentID returns a lower-case ULID used as a server comment id.
// It falls back to a timestamp-only ULID when the entropy source fails.
func NewCommentID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		return strings.ToLower(ulid.Make().String())
	}
	return strings.ToLower(id)
}

// Time extracts the timestamp embedded in a ULID string.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(strings.ToUpper(id))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
