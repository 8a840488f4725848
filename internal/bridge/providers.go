// ABOUTME: Provider contracts and result envelopes for tool/resource dispatch
// ABOUTME: Defines the registry value types the router dispatches to

package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Dispatch errors. ErrUnauthorized aborts a request before provider logic
// runs; everything else is recovered into a structured Result.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Status values for Result envelopes.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the structured outcome of a tool or resource dispatch.
type Result struct {
	Status  string `json:"status"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

func successResult(v any) Result {
	return Result{Status: StatusSuccess, Result: v}
}

func errorResult(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// ToolProvider executes tool operations for one registered tool id.
// Implementations that touch the CAD engine run their session operations
// under the connection supervisor themselves; the router never retries.
type ToolProvider interface {
	ExecuteTool(ctx context.Context, toolID string, params map[string]any) (any, error)
}

// ResourceProvider serves resource reads for one registered resource id.
type ResourceProvider interface {
	GetResource(ctx context.Context, resourceID string, params map[string]any) (any, error)
}

// EventHandler reacts to a triggered event. Handlers run synchronously in
// registration order; a failing handler does not undo deliveries already
// queued by earlier handlers.
type EventHandler func(ctx context.Context, eventType string, data map[string]any) error

// ToolFunc adapts a function to ToolProvider.
type ToolFunc func(ctx context.Context, toolID string, params map[string]any) (any, error)

func (f ToolFunc) ExecuteTool(ctx context.Context, toolID string, params map[string]any) (any, error) {
	return f(ctx, toolID, params)
}

// ResourceFunc adapts a function to ResourceProvider.
type ResourceFunc func(ctx context.Context, resourceID string, params map[string]any) (any, error)

func (f ResourceFunc) GetResource(ctx context.Context, resourceID string, params map[string]any) (any, error) {
	return f(ctx, resourceID, params)
}
