package gateway

import (
	"time"

	"tasklink/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewCommentID returns the server id of a stored comment.
func NewCommentID(now time.Time) string {
	return ids.NewCommentID(now)
}
