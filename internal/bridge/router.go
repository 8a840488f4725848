// ABOUTME: Authenticated request dispatch to registered tool/resource providers
// ABOUTME: Converts provider and connection failures into structured results

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/cad-bridge/internal/auth"
	"github.com/2389/cad-bridge/internal/events"
	"github.com/2389/cad-bridge/internal/recovery"
)

// handlerEntry preserves registration order across event types.
type handlerEntry struct {
	eventType string
	handler   EventHandler
}

// Router authenticates inbound requests and dispatches them to registered
// providers. Registries are populated once at startup and are not guarded
// against concurrent mutation during dispatch.
type Router struct {
	verifier  auth.TokenVerifier
	tools     map[string]ToolProvider
	resources map[string]ResourceProvider
	handlers  []handlerEntry
	logger    *slog.Logger
}

// NewRouter creates a Router using verifier for request authentication.
func NewRouter(verifier auth.TokenVerifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		verifier:  verifier,
		tools:     make(map[string]ToolProvider),
		resources: make(map[string]ResourceProvider),
		logger:    logger.With("component", "router"),
	}
}

// RegisterTool registers a tool provider. Last registration wins.
func (r *Router) RegisterTool(toolID string, p ToolProvider) {
	r.tools[toolID] = p
	r.logger.Debug("tool registered", "tool_id", toolID)
}

// RegisterResource registers a resource provider. Last registration wins.
func (r *Router) RegisterResource(resourceID string, p ResourceProvider) {
	r.resources[resourceID] = p
	r.logger.Debug("resource registered", "resource_id", resourceID)
}

// RegisterEventHandler appends a handler for eventType. The wildcard type
// subscribes the handler to every triggered event.
func (r *Router) RegisterEventHandler(eventType string, h EventHandler) {
	r.handlers = append(r.handlers, handlerEntry{eventType: eventType, handler: h})
	r.logger.Debug("event handler registered", "event_type", eventType)
}

// ExecuteTool authenticates token and dispatches to the provider registered
// under toolID. Failed auth returns ErrUnauthorized before any dispatch.
// Unknown ids and provider failures come back as structured error Results,
// never as transport faults.
func (r *Router) ExecuteTool(ctx context.Context, toolID string, params map[string]any, token string) (Result, error) {
	principal, err := r.authenticate(token)
	if err != nil {
		return Result{}, err
	}

	provider, ok := r.tools[toolID]
	if !ok {
		return errorResult("tool not found: %s", toolID), nil
	}

	r.logger.Debug("executing tool",
		"tool_id", toolID,
		"principal", principal,
	)

	value, err := r.dispatch(ctx, func(ctx context.Context) (any, error) {
		return provider.ExecuteTool(ctx, toolID, params)
	})
	if err != nil {
		return r.errorToResult("tool", toolID, err), nil
	}
	return successResult(value), nil
}

// AccessResource authenticates token and routes to the provider registered
// under resourceID, with the same error contract as ExecuteTool.
func (r *Router) AccessResource(ctx context.Context, resourceID string, params map[string]any, token string) (Result, error) {
	principal, err := r.authenticate(token)
	if err != nil {
		return Result{}, err
	}

	provider, ok := r.resources[resourceID]
	if !ok {
		return errorResult("resource not found: %s", resourceID), nil
	}

	r.logger.Debug("accessing resource",
		"resource_id", resourceID,
		"principal", principal,
	)

	value, err := r.dispatch(ctx, func(ctx context.Context) (any, error) {
		return provider.GetResource(ctx, resourceID, params)
	})
	if err != nil {
		return r.errorToResult("resource", resourceID, err), nil
	}
	return successResult(value), nil
}

// TriggerEvent authenticates token and invokes every handler registered for
// eventType synchronously in registration order. No handlers is a structured
// response, not an error. A failing handler produces an error Result but
// does not affect deliveries already queued by earlier handlers.
func (r *Router) TriggerEvent(ctx context.Context, eventType string, data map[string]any, token string) (Result, error) {
	if _, err := r.authenticate(token); err != nil {
		return Result{}, err
	}

	matched := 0
	for _, entry := range r.handlers {
		if entry.eventType != eventType && entry.eventType != events.Wildcard {
			continue
		}
		matched++
		if err := r.invokeHandler(ctx, entry.handler, eventType, data); err != nil {
			r.logger.Warn("event handler failed",
				"event_type", eventType,
				"error", err,
			)
			return errorResult("handler failed for %s: %v", eventType, err), nil
		}
	}

	if matched == 0 {
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("no handlers registered for %s", eventType)}, nil
	}
	return Result{Status: StatusSuccess, Message: fmt.Sprintf("dispatched to %d handlers", matched)}, nil
}

// authenticate verifies the bearer token, mapping every failure to
// ErrUnauthorized so callers reject uniformly.
func (r *Router) authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	principal, err := r.verifier.Verify(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	return principal, nil
}

// dispatch runs a provider call, recovering panics so no single request can
// terminate the process.
func (r *Router) dispatch(ctx context.Context, call func(context.Context) (any, error)) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider panicked", "panic", rec)
			err = fmt.Errorf("provider panic: %v", rec)
		}
	}()
	return call(ctx)
}

// invokeHandler runs one event handler with panic recovery.
func (r *Router) invokeHandler(ctx context.Context, h EventHandler, eventType string, data map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, eventType, data)
}

// errorToResult converts a provider failure into a structured error Result.
func (r *Router) errorToResult(kind, id string, err error) Result {
	var exhausted *recovery.ExhaustedError
	if errors.As(err, &exhausted) {
		return errorResult("engine unreachable executing %s %s: %v", kind, id, exhausted)
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return errorResult("%v", validation)
	}
	if errors.Is(err, ErrNotFound) {
		return errorResult("%s %s: %v", kind, id, err)
	}
	return errorResult("%s %s failed: %v", kind, id, err)
}
