// ABOUTME: In-memory fan-out hub distributing engine/document events to clients
// ABOUTME: Maintains per-client mailboxes, subscription filters, and keep-alive tasks

package events

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Wildcard matches every event type.
const Wildcard = "*"

// Synthetic event types emitted by the hub itself.
const (
	TypeConnectionEstablished = "connection_established"
	TypePing                  = "ping"
)

// ErrClientNotFound is returned when a subscription lookup fails.
var ErrClientNotFound = errors.New("client not found")

// Event is a single occurrence fanned out to matching subscribers. Events
// are immutable once broadcast; each mailbox receives its own copy.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// subscription is one client's mailbox plus its type filter.
// An empty filter set means wildcard.
type subscription struct {
	clientID string
	mailbox  chan Event
	done     chan struct{}

	mu    sync.Mutex
	types map[string]struct{}
}

// matches reports whether this subscription wants eventType.
func (s *subscription) matches(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.types) == 0 {
		return true
	}
	if _, ok := s.types[Wildcard]; ok {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

func (s *subscription) setTypes(types []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = typeSet(types)
}

// Hub fans out events to independently subscribed clients. Producers never
// block on consumers: a full mailbox drops the event for that subscriber.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*subscription

	mailboxSize int
	keepAlive   time.Duration
	waitCeiling time.Duration
	logger      *slog.Logger
}

// Option adjusts Hub construction.
type Option func(*Hub)

// WithMailboxSize overrides the per-client mailbox buffer. Non-positive
// values keep the default.
func WithMailboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.mailboxSize = n
		}
	}
}

// WithKeepAliveInterval overrides the background ping interval. Non-positive
// values keep the default.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithStreamWaitTimeout overrides the consumer-side wait ceiling after which
// Next returns a synthetic ping. Non-positive values keep the default.
func WithStreamWaitTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.waitCeiling = d
		}
	}
}

// NewHub creates a hub. Pass nil logger for the default.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		subs:        make(map[string]*subscription),
		mailboxSize: 64,
		keepAlive:   15 * time.Second,
		waitCeiling: 30 * time.Second,
		logger:      logger.With("component", "events"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OpenStream allocates a subscription with a fresh client ID and returns its
// stream. Empty requestedTypes means wildcard. The first event delivered is
// always connection_established carrying the client ID. A keep-alive task
// pushes pings into the mailbox until the stream is closed; ctx cancellation
// also closes the stream.
func (h *Hub) OpenStream(ctx context.Context, requestedTypes []string) *Stream {
	sub := &subscription{
		clientID: uuid.New().String(),
		mailbox:  make(chan Event, h.mailboxSize),
		done:     make(chan struct{}),
		types:    typeSet(requestedTypes),
	}

	// Queued before the subscription is visible, so FIFO delivery makes it
	// the first event the consumer sees.
	sub.mailbox <- Event{
		Type:      TypeConnectionEstablished,
		Data:      map[string]any{"client_id": sub.clientID},
		EmittedAt: time.Now(),
	}

	h.mu.Lock()
	h.subs[sub.clientID] = sub
	h.mu.Unlock()

	h.logger.Debug("stream opened",
		"client_id", sub.clientID,
		"types", requestedTypes,
	)

	go h.keepAliveLoop(ctx, sub)

	return &Stream{hub: h, sub: sub}
}

// Broadcast copies an event into every mailbox whose filter matches. The
// subscriber set is snapshotted first: late subscribers never see the event
// and concurrent teardown never fails the broadcast. Never blocks.
func (h *Hub) Broadcast(eventType string, data map[string]any) {
	event := Event{
		Type:      eventType,
		Data:      data,
		EmittedAt: time.Now(),
	}

	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.matches(eventType) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		h.deliver(sub, copyEvent(event))
	}
}

// UpdateSubscription atomically replaces a subscription's type filter.
func (h *Hub) UpdateSubscription(clientID string, types []string) error {
	h.mu.RLock()
	sub, ok := h.subs[clientID]
	h.mu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}

	sub.setTypes(types)
	h.logger.Debug("subscription updated",
		"client_id", clientID,
		"types", types,
	)
	return nil
}

// CloseStream removes a subscription and cancels its keep-alive task.
// Closing an unknown or already-closed client is a no-op; later broadcasts
// to the client are silently dropped.
func (h *Hub) CloseStream(clientID string) {
	h.mu.Lock()
	sub, ok := h.subs[clientID]
	if ok {
		delete(h.subs, clientID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	close(sub.done)
	h.logger.Debug("stream closed", "client_id", clientID)
}

// Close tears down every open stream.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	if len(subs) > 0 {
		h.logger.Debug("hub closed", "streams", len(subs))
	}
}

// SubscriberCount returns the number of open streams (for diagnostics).
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// deliver enqueues without blocking; full mailboxes drop the event.
func (h *Hub) deliver(sub *subscription, event Event) {
	select {
	case <-sub.done:
	case sub.mailbox <- event:
	default:
		h.logger.Debug("dropped event for slow subscriber",
			"client_id", sub.clientID,
			"type", event.Type,
		)
	}
}

// keepAliveLoop pushes pings into the mailbox on a timer for the
// subscription's lifetime. It is the only long-lived task per stream and
// exits deterministically when the stream or ctx ends.
func (h *Hub) keepAliveLoop(ctx context.Context, sub *subscription) {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseStream(sub.clientID)
			return
		case <-sub.done:
			return
		case <-ticker.C:
			h.deliver(sub, pingEvent())
		}
	}
}

// Stream is a pull-based, non-restartable view of one client's mailbox.
type Stream struct {
	hub *Hub
	sub *subscription
}

// ClientID returns the opaque client token for this stream.
func (s *Stream) ClientID() string {
	return s.sub.clientID
}

// Next blocks until an event is available, the wait ceiling elapses, ctx is
// cancelled, or the stream is closed. A ceiling expiry yields a synthetic
// ping; consumers must tolerate duplicate pings from the keep-alive task.
// After close, Next returns ErrClientNotFound.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	timer := time.NewTimer(s.hub.waitCeiling)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.sub.done:
		return Event{}, ErrClientNotFound
	case event := <-s.sub.mailbox:
		return event, nil
	case <-timer.C:
		return pingEvent(), nil
	}
}

// Close removes the subscription. Safe to call more than once.
func (s *Stream) Close() {
	s.hub.CloseStream(s.sub.clientID)
}

func pingEvent() Event {
	return Event{
		Type:      TypePing,
		Data:      map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)},
		EmittedAt: time.Now(),
	}
}

func typeSet(types []string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}

func copyEvent(e Event) Event {
	out := e
	if e.Data != nil {
		out.Data = maps.Clone(e.Data)
	}
	return out
}
