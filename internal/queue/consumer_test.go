package queue

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_AppendsToSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "notifications.log")
	c := &Consumer{Sink: &FileSink{Path: path}}

	sentAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	for _, r := range []string{"alice@example.com", "bob"} {
		body, err := NotificationEvent{Recipient: r, Message: "Schedule s1 is confirmed", SentAt: sentAt}.Encode()
		require.NoError(t, err)
		require.NoError(t, c.Handle(body))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `[2026-03-01T10:30:00Z] Notification delivered | recipient="alice@example.com" | message="Schedule s1 is confirmed"`, lines[0])
	assert.Contains(t, lines[1], `recipient="bob"`)
}

func TestHandle_RejectsBadPayloads(t *testing.T) {
	c := &Consumer{Sink: &FileSink{Path: filepath.Join(t.TempDir(), "n.log")}}
	assert.Error(t, c.Handle([]byte("not json")))
	assert.Error(t, c.Handle([]byte(`{"message":"orphan"}`)))
}

func TestDecodeNotification_RoundTripsFields(t *testing.T) {
	body := []byte(`{"recipient":"r","message":"m","sent_at":"2026-03-01T10:00:00Z"}`)
	ev, err := DecodeNotification(body)
	require.NoError(t, err)
	assert.Equal(t, "r", ev.Recipient)
	assert.Equal(t, "m", ev.Message)
	assert.True(t, ev.SentAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}
