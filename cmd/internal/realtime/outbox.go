package realtime

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultProcessedTTL is how long correlation records are kept.
const DefaultProcessedTTL = 24 * time.Hour

// OutboundStatus tells whether a comment was written to the transport.
type OutboundStatus string

const (
	StatusProcessed OutboundStatus = "processed"
	StatusPending   OutboundStatus = "pending"
)

// Outbound is the correlation record for one outbound comment.
type Outbound struct {
	ID        string
	TaskID    string
	Content   string
	Status    OutboundStatus
	CreatedAt time.Time
}

// outbox holds correlation records keyed by message id. Not safe for
// concurrent use; the Manager guards it with its own mutex.
type outbox struct {
	records map[string]Outbound
}

func newOutbox() *outbox {
	return &outbox{records: make(map[string]Outbound)}
}

func (o *outbox) put(rec Outbound) {
	o.records[rec.ID] = rec
}

func (o *outbox) setStatus(id string, status OutboundStatus) {
	rec, ok := o.records[id]
	if !ok {
		return
	}
	rec.Status = status
	o.records[id] = rec
}

func (o *outbox) processed(id string) bool {
	rec, ok := o.records[id]
	return ok && rec.Status == StatusProcessed
}

// markProcessed records id as processed, creating a bare record when unknown.
func (o *outbox) markProcessed(id string, now time.Time) {
	rec, ok := o.records[id]
	if !ok {
		rec = Outbound{ID: id, CreatedAt: now}
	}
	rec.Status = StatusProcessed
	o.records[id] = rec
}

// prune drops records whose id timestamp is older than ttl. Ids without a
// parsable millis prefix fall back to the record's CreatedAt.
func (o *outbox) prune(now time.Time, ttl time.Duration) int {
	cut := now.Add(-ttl)
	n := 0
	for id, rec := range o.records {
		ts, ok := MessageIDTime(id)
		if !ok {
			ts = rec.CreatedAt
		}
		if ts.Before(cut) {
			delete(o.records, id)
			n++
		}
	}
	return n
}

// pending returns pending records oldest first.
func (o *outbox) pending() []Outbound {
	out := make([]Outbound, 0)
	for _, rec := range o.records {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NewMessageID returns a correlation id of the form {epoch-millis}-{base36}.
func NewMessageID(now time.Time) string {
	var b [8]byte
	var suffix uint64
	if _, err := rand.Read(b[:]); err == nil {
		suffix = binary.BigEndian.Uint64(b[:])
	} else {
		suffix = uint64(now.UnixNano())
	}
	// Truncate to 9 chars.
	s := strconv.FormatUint(suffix, 36)
	if len(s) > 9 {
		s = s[:9]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + s
}

// millisDigits is the width of an epoch-millis prefix between 2001 and 2286.
const millisDigits = 13

// MessageIDTime extracts the creation time encoded in a correlation id. Only
// ids minted by NewMessageID carry one; anything else reports false.
func MessageIDTime(id string) (time.Time, bool) {
	head, _, ok := strings.Cut(id, "-")
	if !ok || len(head) != millisDigits {
		return time.Time{}, false
	}
	for i := 0; i < len(head); i++ {
		if head[i] < '0' || head[i] > '9' {
			return time.Time{}, false
		}
	}
	ms, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
