// ABOUTME: Tests for the connection supervisor's reconnect-and-retry loop
// ABOUTME: Covers budget exhaustion, backoff timing, and connectivity edges

package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cad-bridge/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHandle struct {
	closed atomic.Bool
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// recorder collects connectivity notifications in order.
type recorder struct {
	mu    sync.Mutex
	edges []bool
}

func (r *recorder) listen(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges = append(r.edges, connected)
}

func (r *recorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.edges))
	copy(out, r.edges)
	return out
}

func fastConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		MaxRetries:    3,
		BackoffFactor: 2.0,
		RetryDelay:    10 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	var dials atomic.Int32
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		dials.Add(1)
		return &fakeHandle{}, nil
	}, testLogger())

	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), dials.Load())
	assert.True(t, sup.Status().Connected)
}

func TestExecuteExhaustsBudgetAfterMaxRetriesPlusOne(t *testing.T) {
	var dials atomic.Int32
	dialErr := errors.New("connection refused")
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		dials.Add(1)
		return nil, dialErr
	}, testLogger())

	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		t.Fatal("operation must not run without a session")
		return nil
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts, "max_retries=3 yields 4 total attempts")
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, int32(4), dials.Load())
	assert.False(t, sup.Status().Connected)
}

func TestExecuteRecoversAfterTransientFailures(t *testing.T) {
	cfg := config.RecoveryConfig{
		MaxRetries:    3,
		BackoffFactor: 2.0,
		RetryDelay:    100 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
	}

	var attempts atomic.Int32
	sup := NewSupervisor(cfg, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	}, testLogger())

	start := time.Now()
	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		if attempts.Add(1) <= 2 {
			return errors.New("engine hiccup")
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	// Two failed attempts wait 100ms then 200ms before the third succeeds.
	assert.GreaterOrEqual(t, elapsed, 290*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	st := sup.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, 0, st.RetryCount)
	assert.Equal(t, cfg.RetryDelay, st.CurrentDelay)
}

func TestConnectivityCallbacksAreEdgeTriggered(t *testing.T) {
	var attempts atomic.Int32
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	}, testLogger())

	rec := &recorder{}
	sup.OnConnectivityChange(rec.listen)

	// Two failures then a success inside one recovery loop, followed by a
	// second healthy operation: listeners see exactly one False and one True.
	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		if attempts.Add(1) <= 2 {
			return errors.New("engine hiccup")
		}
		return nil
	})
	require.NoError(t, err)

	err = sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, rec.snapshot())
}

func TestConnectivityCallbackOnExhaustion(t *testing.T) {
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		return nil, errors.New("connection refused")
	}, testLogger())

	rec := &recorder{}
	sup.OnConnectivityChange(rec.listen)

	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		return nil
	})
	require.Error(t, err)

	// Four failed attempts collapse into a single disconnected notification.
	assert.Equal(t, []bool{false}, rec.snapshot())
}

func TestPanickingListenerDoesNotAbortOthers(t *testing.T) {
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	}, testLogger())

	rec := &recorder{}
	sup.OnConnectivityChange(func(bool) { panic("listener bug") })
	sup.OnConnectivityChange(rec.listen)

	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, rec.snapshot())
}

func TestExecuteCancelledMidWaitPreservesState(t *testing.T) {
	cfg := config.RecoveryConfig{
		MaxRetries:    3,
		BackoffFactor: 2.0,
		RetryDelay:    time.Second,
		MaxDelay:      5 * time.Second,
	}
	sup := NewSupervisor(cfg, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := sup.Execute(ctx, func(ctx context.Context, h Handle) error {
		return errors.New("engine hiccup")
	})
	require.ErrorIs(t, err, context.Canceled)

	// One failure recorded; the interrupted wait did not advance the delay.
	st := sup.Status()
	assert.Equal(t, 1, st.RetryCount)
	assert.Equal(t, time.Second, st.CurrentDelay)
}

func TestFailedAttemptDiscardsSession(t *testing.T) {
	var handles []*fakeHandle
	var mu sync.Mutex
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		h := &fakeHandle{}
		mu.Lock()
		handles = append(handles, h)
		mu.Unlock()
		return h, nil
	}, testLogger())

	var attempts atomic.Int32
	err := sup.Execute(context.Background(), func(ctx context.Context, h Handle) error {
		if attempts.Add(1) == 1 {
			return errors.New("engine hiccup")
		}
		return nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handles, 2, "failed attempt must redial")
	assert.True(t, handles[0].closed.Load(), "failed session must be closed")
	assert.False(t, handles[1].closed.Load())
}

func TestConnectIsIdempotent(t *testing.T) {
	var dials atomic.Int32
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		dials.Add(1)
		return &fakeHandle{}, nil
	}, testLogger())

	require.NoError(t, sup.Connect(context.Background()))
	require.NoError(t, sup.Connect(context.Background()))
	assert.Equal(t, int32(1), dials.Load())
}

func TestDisconnectClosesHandleAndResets(t *testing.T) {
	h := &fakeHandle{}
	sup := NewSupervisor(fastConfig(), func(ctx context.Context) (Handle, error) {
		return h, nil
	}, testLogger())

	require.NoError(t, sup.Connect(context.Background()))
	require.True(t, sup.Status().Connected)

	sup.Disconnect()
	assert.True(t, h.closed.Load())
	assert.False(t, sup.Status().Connected)

	// Safe when already disconnected.
	sup.Disconnect()
}

func TestExhaustedErrorUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &ExhaustedError{Attempts: 4, LastErr: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "4 attempts")
}
