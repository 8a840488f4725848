// ABOUTME: Tool and resource providers backed by the live CAD engine session
// ABOUTME: Runs engine commands under the connection supervisor's retry loop

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/cad-bridge/internal/engine"
	"github.com/2389/cad-bridge/internal/recovery"
)

// EngineToolProvider executes tools inside the CAD engine process. Session
// establishment and transport failures are retried by the supervisor;
// failures reported by the engine itself are per-request errors and are
// returned without consuming the recovery budget.
type EngineToolProvider struct {
	sup *recovery.Supervisor
}

// NewEngineToolProvider creates a provider running tools via sup's session.
func NewEngineToolProvider(sup *recovery.Supervisor) *EngineToolProvider {
	return &EngineToolProvider{sup: sup}
}

// ExecuteTool sends a tools.execute command to the engine.
func (p *EngineToolProvider) ExecuteTool(ctx context.Context, toolID string, params map[string]any) (any, error) {
	return engineCommand(ctx, p.sup, "tools.execute", map[string]any{
		"tool_id": toolID,
		"params":  params,
	})
}

// EngineResourceProvider reads resources (documents, scenes, object trees)
// from the CAD engine process.
type EngineResourceProvider struct {
	sup *recovery.Supervisor
}

// NewEngineResourceProvider creates a provider reading resources via sup's session.
func NewEngineResourceProvider(sup *recovery.Supervisor) *EngineResourceProvider {
	return &EngineResourceProvider{sup: sup}
}

// GetResource sends a resources.get command to the engine.
func (p *EngineResourceProvider) GetResource(ctx context.Context, resourceID string, params map[string]any) (any, error) {
	return engineCommand(ctx, p.sup, "resources.get", map[string]any{
		"resource_id": resourceID,
		"params":      params,
	})
}

// engineCommand runs one engine command under the supervisor. A
// *engine.CommandError means the session is healthy and the request itself
// failed: it is captured and returned without triggering a reconnect.
func engineCommand(ctx context.Context, sup *recovery.Supervisor, method string, params map[string]any) (any, error) {
	var (
		raw    json.RawMessage
		cmdErr error
	)

	err := sup.Execute(ctx, func(ctx context.Context, h recovery.Handle) error {
		conn, ok := h.(*engine.Conn)
		if !ok {
			return fmt.Errorf("unexpected session type %T", h)
		}

		result, err := conn.Command(ctx, method, params)
		var ce *engine.CommandError
		if errors.As(err, &ce) {
			cmdErr = ce
			return nil
		}
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cmdErr != nil {
		return nil, cmdErr
	}

	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return value, nil
}
