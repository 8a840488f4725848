// ABOUTME: Supervises the engine connection lifecycle with reconnect-and-retry
// ABOUTME: Owns the connection handle and notifies listeners of connectivity edges

package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/cad-bridge/internal/config"
)

// Handle is an opaque engine session owned by the Supervisor.
type Handle interface {
	Close() error
}

// DialFunc establishes a new engine session.
type DialFunc func(ctx context.Context) (Handle, error)

// Operation runs against a live engine session. A returned error discards
// the session and counts as a failed attempt.
type Operation func(ctx context.Context, h Handle) error

// Listener receives connectivity change notifications. Listeners are invoked
// synchronously in registration order, only on disconnected<->connected
// transitions, never once per retry.
type Listener func(connected bool)

// ExhaustedError is returned when the recovery budget is spent without a
// successful attempt.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("connection recovery exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Status is a read-only snapshot of the supervisor.
type Status struct {
	Connected    bool                  `json:"connected"`
	RetryCount   int                   `json:"retry_count"`
	CurrentDelay time.Duration         `json:"current_delay"`
	LastError    string                `json:"last_error,omitempty"`
	Config       config.RecoveryConfig `json:"config"`
}

// Supervisor executes operations against the engine with automatic
// reconnect-and-retry governed by a Policy. At most one recovery attempt is
// in flight per Supervisor; concurrent callers serialize behind it.
type Supervisor struct {
	execMu sync.Mutex // serializes attempt loops

	mu           sync.Mutex // guards everything below
	policy       *Policy
	handle       Handle
	dial         DialFunc
	listeners    []Listener
	lastNotified *bool
	logger       *slog.Logger
}

// NewSupervisor creates a Supervisor that dials the engine with dial and
// retries per cfg. Pass nil logger for the default.
func NewSupervisor(cfg config.RecoveryConfig, dial DialFunc, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		policy: NewPolicy(cfg),
		dial:   dial,
		logger: logger.With("component", "supervisor"),
	}
}

// OnConnectivityChange registers a listener for connectivity transitions.
// Expected to be called during startup, before operations are executed.
func (s *Supervisor) OnConnectivityChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Execute runs op against a live engine session, dialing if needed. Failed
// attempts discard the session and retry after the policy's current delay
// until the budget is spent, then an *ExhaustedError surfaces. Cancelling
// ctx mid-wait returns ctx.Err() without touching the retry state.
func (s *Supervisor) Execute(ctx context.Context, op Operation) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	for attempt := 0; ; attempt++ {
		err := s.runAttempt(ctx, op)
		if err == nil {
			s.recordSuccess()
			return nil
		}

		s.recordFailure(err)

		if !s.shouldRetry(attempt + 1) {
			s.logger.Error("recovery budget exhausted",
				"attempts", attempt+1,
				"error", err,
			)
			return &ExhaustedError{Attempts: attempt + 1, LastErr: err}
		}

		delay := s.currentDelay()
		s.logger.Warn("engine operation failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		s.advanceDelay()
	}
}

// Connect establishes the engine session if not already connected.
// Idempotent: a live session is left untouched.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.Execute(ctx, func(context.Context, Handle) error { return nil })
}

// Disconnect closes and clears the engine session and resets the recovery
// state. Safe to call regardless of prior state.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.policy.Reset()
	s.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			s.logger.Warn("closing engine session", "error", err)
		}
	}
}

// Status returns a read-only snapshot of connection state and config.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.policy.State()
	status := Status{
		Connected:    st.Connected,
		RetryCount:   st.RetryCount,
		CurrentDelay: st.CurrentDelay,
		Config:       s.policy.Config(),
	}
	if st.LastError != nil {
		status.LastError = st.LastError.Error()
	}
	return status
}

// runAttempt ensures a session exists and runs op against it.
func (s *Supervisor) runAttempt(ctx context.Context, op Operation) error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		dialed, err := s.dial(ctx)
		if err != nil {
			return fmt.Errorf("dialing engine: %w", err)
		}
		s.mu.Lock()
		s.handle = dialed
		s.mu.Unlock()
		h = dialed
	}

	return op(ctx, h)
}

func (s *Supervisor) recordSuccess() {
	s.mu.Lock()
	s.policy.RecordSuccess()
	notify := s.lastNotified == nil || !*s.lastNotified
	if notify {
		v := true
		s.lastNotified = &v
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if notify {
		s.notify(listeners, true)
	}
}

func (s *Supervisor) recordFailure(err error) {
	s.mu.Lock()
	s.policy.RecordFailure(err)
	h := s.handle
	s.handle = nil
	notify := s.lastNotified == nil || *s.lastNotified
	if notify {
		v := false
		s.lastNotified = &v
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	if h != nil {
		if cerr := h.Close(); cerr != nil {
			s.logger.Debug("closing failed engine session", "error", cerr)
		}
	}
	if notify {
		s.notify(listeners, false)
	}
}

// notify invokes listeners synchronously; a panicking listener is logged and
// never aborts the remaining listeners or the recovery attempt.
func (s *Supervisor) notify(listeners []Listener, connected bool) {
	for i, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("connectivity listener panicked",
						"listener", i,
						"connected", connected,
						"panic", r,
					)
				}
			}()
			fn(connected)
		}()
	}
}

func (s *Supervisor) snapshotListeners() []Listener {
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *Supervisor) shouldRetry(attemptIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.ShouldRetry(attemptIndex)
}

func (s *Supervisor) currentDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.State().CurrentDelay
}

func (s *Supervisor) advanceDelay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy.NextDelay()
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
