package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID_format_and_time(t *testing.T) {
	now := time.UnixMilli(1767225600123)

	id := NewMessageID(now)

	assert.Regexp(t, `^1767225600123-[0-9a-z]{1,9}$`, id)
	ts, ok := MessageIDTime(id)
	require.True(t, ok)
	assert.True(t, ts.Equal(now))
	assert.NotEqual(t, id, NewMessageID(now))
}

func TestMessageIDTime_rejects_foreign_ids(t *testing.T) {
	for _, id := range []string{"", "abc", "temp-1", "-x", "01HZX3", "12345678-1234-4abc-8def-0123456789ab", "+767225600123-x", "1767225600123x-y"} {
		_, ok := MessageIDTime(id)
		assert.False(t, ok, id)
	}
}

func TestOutbox_prune_and_pending_order(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	o := newOutbox()

	old := NewMessageID(now.Add(-48 * time.Hour))
	o.put(Outbound{ID: old, Status: StatusProcessed, CreatedAt: now.Add(-48 * time.Hour)})
	o.put(Outbound{ID: "b", Status: StatusPending, CreatedAt: now.Add(-2 * time.Minute)})
	o.put(Outbound{ID: "a", Status: StatusPending, CreatedAt: now.Add(-time.Minute)})
	o.markProcessed("external", now)

	assert.Equal(t, 1, o.prune(now, DefaultProcessedTTL))
	assert.False(t, o.processed(old))
	assert.True(t, o.processed("external"))

	pending := o.pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID)
	assert.Equal(t, "a", pending[1].ID)

	o.setStatus("b", StatusProcessed)
	assert.Len(t, o.pending(), 1)
}

func TestOutbox_prune_keeps_server_uuid_marked_processed(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	o := newOutbox()
	uuid := "12345678-1234-4abc-8def-0123456789ab"

	o.markProcessed(uuid, now.Add(-time.Hour))

	assert.Equal(t, 0, o.prune(now, DefaultProcessedTTL))
	assert.True(t, o.processed(uuid))

	assert.Equal(t, 1, o.prune(now.Add(25*time.Hour), DefaultProcessedTTL))
	assert.False(t, o.processed(uuid))
}
