// ABOUTME: Pure retry/backoff decision logic for the engine connection
// ABOUTME: Tracks retry counts and exponential delay growth, no I/O

package recovery

import (
	"time"

	"github.com/2389/cad-bridge/internal/config"
)

// State is a snapshot of the recovery state machine.
type State struct {
	RetryCount   int
	CurrentDelay time.Duration
	Connected    bool
	LastError    error
}

// Policy computes retry decisions for the engine connection. It holds the
// mutable recovery state; all transitions are total and never fail.
// Policy is not safe for concurrent use; the Supervisor serializes access.
type Policy struct {
	cfg   config.RecoveryConfig
	state State
}

// NewPolicy creates a Policy in the initial (disconnected, zero-retry) state.
func NewPolicy(cfg config.RecoveryConfig) *Policy {
	p := &Policy{cfg: cfg}
	p.Reset()
	return p
}

// Config returns the immutable recovery configuration.
func (p *Policy) Config() config.RecoveryConfig {
	return p.cfg
}

// State returns a copy of the current recovery state.
func (p *Policy) State() State {
	return p.state
}

// NextDelay advances the backoff delay after a failed attempt and returns
// the new value: min(current * backoff_factor, max_delay).
func (p *Policy) NextDelay() time.Duration {
	next := time.Duration(float64(p.state.CurrentDelay) * p.cfg.BackoffFactor)
	if next > p.cfg.MaxDelay {
		next = p.cfg.MaxDelay
	}
	p.state.CurrentDelay = next
	return next
}

// ShouldRetry reports whether another attempt is permitted. attemptIndex is
// the number of attempts already made; the budget allows max_retries + 1
// total attempts.
func (p *Policy) ShouldRetry(attemptIndex int) bool {
	return attemptIndex < p.cfg.MaxRetries+1
}

// RecordSuccess marks the connection healthy and restores the initial
// retry count and delay.
func (p *Policy) RecordSuccess() {
	p.state.Connected = true
	p.state.RetryCount = 0
	p.state.CurrentDelay = p.cfg.RetryDelay
	p.state.LastError = nil
}

// RecordFailure notes a failed attempt.
func (p *Policy) RecordFailure(err error) {
	p.state.RetryCount++
	p.state.LastError = err
	p.state.Connected = false
}

// Reset unconditionally restores the initial state.
func (p *Policy) Reset() {
	p.state = State{
		RetryCount:   0,
		CurrentDelay: p.cfg.RetryDelay,
		Connected:    false,
		LastError:    nil,
	}
}
