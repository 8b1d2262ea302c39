package audit

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestPublisherStampsTimestamp(t *testing.T) {
	inbox := make(chan Event, 1)
	pub := NewPublisher(inbox, discardLogger())

	pub.Record(context.Background(), Event{Action: ActionClusterMerged, ContactID: 2, CanonicalID: 1})

	got := <-inbox
	assert.False(t, got.Timestamp.IsZero(), "timestamp should be stamped on emit")
	assert.Equal(t, ActionClusterMerged, got.Action)
}

func TestPublisherDropsWhenInboxFull(t *testing.T) {
	inbox := make(chan Event, 1)
	pub := NewPublisher(inbox, discardLogger())

	pub.Record(context.Background(), Event{Action: ActionPrimaryCreated, ContactID: 1, CanonicalID: 1})
	// Inbox full: must not block.
	pub.Record(context.Background(), Event{Action: ActionPrimaryCreated, ContactID: 2, CanonicalID: 2})

	require.Len(t, inbox, 1)
}

func TestWorkerDrainsToSink(t *testing.T) {
	inbox := make(chan Event, 4)
	sink := NewMemorySink()
	worker := NewWorker(sink, inbox, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	inbox <- Event{Action: ActionSecondaryCreated, ContactID: 3, CanonicalID: 1, Timestamp: time.Now()}
	inbox <- Event{Action: ActionClusterMerged, ContactID: 2, CanonicalID: 1, Timestamp: time.Now()}

	require.Eventually(t, func() bool {
		return len(sink.Events()) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	events := sink.Events()
	assert.Equal(t, ActionSecondaryCreated, events[0].Action)
	assert.Equal(t, ActionClusterMerged, events[1].Action)
}
