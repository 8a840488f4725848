// ABOUTME: Tests for the event hub's fan-out, filtering, and stream lifecycle
// ABOUTME: Covers FIFO ordering, wildcard matching, keep-alives, and teardown

package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHub(opts ...Option) *Hub {
	return NewHub(testLogger(), opts...)
}

// nextEvent reads one event from the stream, failing the test on timeout.
func nextEvent(t *testing.T, stream *Stream) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	event, err := stream.Next(ctx)
	require.NoError(t, err)
	return event
}

// drainEstablished consumes the initial connection_established event.
func drainEstablished(t *testing.T, stream *Stream) {
	t.Helper()
	event := nextEvent(t, stream)
	require.Equal(t, TypeConnectionEstablished, event.Type)
}

func TestStreamDeliversConnectionEstablishedFirst(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), nil)

	// Broadcast races the consumer; connection_established still wins.
	hub.Broadcast("document_changed", map[string]any{"doc": "a"})

	event := nextEvent(t, stream)
	assert.Equal(t, TypeConnectionEstablished, event.Type)
	assert.Equal(t, stream.ClientID(), event.Data["client_id"])
}

func TestBroadcastRespectsDisjointFilters(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	docStream := hub.OpenStream(context.Background(), []string{"document_changed"})
	selStream := hub.OpenStream(context.Background(), []string{"selection_changed"})
	drainEstablished(t, docStream)
	drainEstablished(t, selStream)

	hub.Broadcast("document_changed", map[string]any{"doc": "a"})
	hub.Broadcast("selection_changed", map[string]any{"ids": []any{"1"}})

	event := nextEvent(t, docStream)
	assert.Equal(t, "document_changed", event.Type)
	assert.Equal(t, "a", event.Data["doc"])

	event = nextEvent(t, selStream)
	assert.Equal(t, "selection_changed", event.Type)

	// Neither stream received the other's event.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := docStream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWildcardSubscriptionReceivesEverything(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), []string{Wildcard})
	drainEstablished(t, stream)

	hub.Broadcast("document_changed", nil)
	hub.Broadcast("error_reported", map[string]any{"message": "boom"})

	assert.Equal(t, "document_changed", nextEvent(t, stream).Type)
	assert.Equal(t, "error_reported", nextEvent(t, stream).Type)
}

func TestEmptyFilterMeansWildcard(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), nil)
	drainEstablished(t, stream)

	hub.Broadcast("anything_at_all", nil)
	assert.Equal(t, "anything_at_all", nextEvent(t, stream).Type)
}

func TestUnmatchedTypeOnlyReachesWildcard(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	docStream := hub.OpenStream(context.Background(), []string{"document_changed"})
	allStream := hub.OpenStream(context.Background(), []string{Wildcard})
	drainEstablished(t, docStream)
	drainEstablished(t, allStream)

	hub.Broadcast("error_reported", map[string]any{"message": "boom"})

	assert.Equal(t, "error_reported", nextEvent(t, allStream).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := docStream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFanOutDeliversToAllMatching(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	streams := make([]*Stream, 3)
	for i := range streams {
		streams[i] = hub.OpenStream(context.Background(), []string{"document_changed"})
		drainEstablished(t, streams[i])
	}

	hub.Broadcast("document_changed", map[string]any{"doc": "a"})

	for _, stream := range streams {
		event := nextEvent(t, stream)
		assert.Equal(t, "document_changed", event.Type)
	}
	assert.Equal(t, 3, hub.SubscriberCount())
}

func TestPerClientFIFOOrdering(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), nil)
	drainEstablished(t, stream)

	hub.Broadcast("step", map[string]any{"n": "a"})
	hub.Broadcast("step", map[string]any{"n": "b"})
	hub.Broadcast("step", map[string]any{"n": "c"})

	assert.Equal(t, "a", nextEvent(t, stream).Data["n"])
	assert.Equal(t, "b", nextEvent(t, stream).Data["n"])
	assert.Equal(t, "c", nextEvent(t, stream).Data["n"])
}

func TestEachSubscriberGetsIndependentCopy(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	a := hub.OpenStream(context.Background(), nil)
	b := hub.OpenStream(context.Background(), nil)
	drainEstablished(t, a)
	drainEstablished(t, b)

	hub.Broadcast("document_changed", map[string]any{"doc": "a"})

	eventA := nextEvent(t, a)
	eventA.Data["doc"] = "mutated"

	eventB := nextEvent(t, b)
	assert.Equal(t, "a", eventB.Data["doc"], "mutating one copy must not leak")
}

func TestUpdateSubscriptionReplacesFilter(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), []string{"document_changed"})
	drainEstablished(t, stream)

	require.NoError(t, hub.UpdateSubscription(stream.ClientID(), []string{"selection_changed"}))

	hub.Broadcast("document_changed", nil)
	hub.Broadcast("selection_changed", nil)

	// The replaced filter drops document_changed entirely.
	assert.Equal(t, "selection_changed", nextEvent(t, stream).Type)
}

func TestUpdateSubscriptionUnknownClient(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	err := hub.UpdateSubscription("no-such-client", []string{"document_changed"})
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestCloseStreamIsIdempotent(t *testing.T) {
	hub := testHub()

	stream := hub.OpenStream(context.Background(), nil)
	clientID := stream.ClientID()

	stream.Close()
	stream.Close()
	hub.CloseStream(clientID)
	hub.CloseStream("never-existed")

	assert.Equal(t, 0, hub.SubscriberCount())

	// Broadcasting after teardown is a silent no-op.
	hub.Broadcast("document_changed", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := stream.Next(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestHubCloseTearsDownAllStreams(t *testing.T) {
	hub := testHub()

	a := hub.OpenStream(context.Background(), nil)
	b := hub.OpenStream(context.Background(), nil)
	drainEstablished(t, a)
	drainEstablished(t, b)

	hub.Close()
	assert.Equal(t, 0, hub.SubscriberCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Next(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)
	_, err = b.Next(ctx)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestContextCancellationClosesStream(t *testing.T) {
	hub := testHub(WithKeepAliveInterval(10 * time.Millisecond))
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream := hub.OpenStream(ctx, nil)
	drainEstablished(t, stream)
	require.Equal(t, 1, hub.SubscriberCount())

	cancel()

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestKeepAlivePingsFlowIntoMailbox(t *testing.T) {
	hub := testHub(WithKeepAliveInterval(20 * time.Millisecond))
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), []string{"document_changed"})
	drainEstablished(t, stream)

	// Pings arrive regardless of the subscription filter.
	event := nextEvent(t, stream)
	assert.Equal(t, TypePing, event.Type)
	assert.Contains(t, event.Data, "timestamp")
}

func TestNextReturnsSyntheticPingAtWaitCeiling(t *testing.T) {
	hub := testHub(
		WithKeepAliveInterval(time.Hour),
		WithStreamWaitTimeout(30*time.Millisecond),
	)
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), nil)
	drainEstablished(t, stream)

	start := time.Now()
	event := nextEvent(t, stream)
	assert.Equal(t, TypePing, event.Type)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := testHub(WithMailboxSize(2))
	defer hub.Close()

	stream := hub.OpenStream(context.Background(), nil)

	// Mailbox holds connection_established plus one more; the rest drop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Broadcast("step", map[string]any{"n": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full mailbox")
	}

	drainEstablished(t, stream)
	assert.Equal(t, "step", nextEvent(t, stream).Type)
}
