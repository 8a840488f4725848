// ABOUTME: HTTP handlers exposing the bridge protocol surface
// ABOUTME: SSE event streams, tool/resource dispatch, subscriptions, health

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/2389/cad-bridge/internal/auth"
	"github.com/2389/cad-bridge/internal/events"
)

// TriggerEventRequest is the JSON request body for POST /events/{event_type}.
type TriggerEventRequest struct {
	Data map[string]any `json:"data"`
}

// SubscribeRequest is the JSON request body for POST /subscribe.
type SubscribeRequest struct {
	ClientID   string   `json:"client_id"`
	EventTypes []string `json:"event_types"`
}

// DispatchRequest is the JSON request body for tool execution and resource access.
type DispatchRequest struct {
	Params map[string]any `json:"params"`
}

// AckResponse is the JSON response for event trigger and subscribe calls.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// registerRoutes attaches all HTTP handlers to the mux. The SSE stream and
// diagnostics endpoints authenticate via middleware; dispatch endpoints pass
// the bearer token through to the router, which owns the auth check.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	authMiddleware := auth.HTTPAuthMiddleware(s.verifier)

	mux.Handle("/events", authMiddleware(http.HandlerFunc(s.handleEventStream)))
	mux.HandleFunc("/events/", s.handleTriggerEvent)
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/tools/", s.handleToolExecute)
	mux.HandleFunc("/resources/", s.handleResourceAccess)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/diagnostics", authMiddleware(http.HandlerFunc(s.handleDiagnostics)))
}

// handleEventStream handles GET /events?types=<csv> requests.
// It opens an SSE stream whose first frame is connection_established and
// keeps it alive with periodic pings until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var types []string
	if csv := r.URL.Query().Get("types"); csv != "" {
		for _, t := range strings.Split(csv, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	stream := s.hub.OpenStream(r.Context(), types)
	defer stream.Close()

	for {
		event, err := stream.Next(r.Context())
		if err != nil {
			return
		}
		s.writeSSEEvent(w, event.Type, event.Data)
		flusher.Flush()
	}
}

// handleTriggerEvent handles POST /events/{event_type} requests.
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	eventType := strings.TrimPrefix(r.URL.Path, "/events/")
	if eventType == "" || strings.Contains(eventType, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "invalid event type path")
		return
	}

	var req TriggerEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.router.TriggerEvent(r.Context(), eventType, req.Data, bearerToken(r))
	if err != nil {
		s.sendRouterError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, AckResponse{
		Success: result.Status == StatusSuccess,
		Message: result.Message,
	})
}

// handleSubscribe handles POST /subscribe requests, replacing an existing
// subscription's event type filter.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		s.sendJSONError(w, http.StatusUnauthorized, errMsg)
		return
	}
	if _, err := s.verifier.Verify(token); err != nil {
		s.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClientID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	if err := s.hub.UpdateSubscription(req.ClientID, req.EventTypes); err != nil {
		if errors.Is(err, events.ErrClientNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "unknown client_id")
			return
		}
		s.sendJSONError(w, http.StatusInternalServerError, "subscription update failed")
		return
	}

	s.sendJSON(w, http.StatusOK, AckResponse{
		Success: true,
		Message: "subscription updated",
	})
}

// handleToolExecute handles POST /tools/{tool_id}/execute requests.
func (s *Server) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	toolID, ok := dispatchID(r.URL.Path, "/tools/", "execute")
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.handleDispatch(w, r, func(params map[string]any, token string) (Result, error) {
		return s.router.ExecuteTool(r.Context(), toolID, params, token)
	})
}

// handleResourceAccess handles POST /resources/{resource_id}/access requests.
func (s *Server) handleResourceAccess(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := dispatchID(r.URL.Path, "/resources/", "access")
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.handleDispatch(w, r, func(params map[string]any, token string) (Result, error) {
		return s.router.AccessResource(r.Context(), resourceID, params, token)
	})
}

// handleDispatch is the shared POST body/auth plumbing for tool and
// resource calls.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request, dispatch func(map[string]any, string) (Result, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := dispatch(req.Params, bearerToken(r))
	if err != nil {
		s.sendRouterError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, result)
}

// handleHealth handles GET /health requests. No auth required.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := s.sup.Status()
	resp := HealthResponse{Status: "ok", Connected: status.Connected}
	if !status.Connected && status.LastError != "" {
		resp.Status = "degraded"
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleDiagnostics handles GET /diagnostics requests with a full status
// snapshot including the engine connection state and recent ledger events.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	diag := map[string]any{
		"server_id":   s.serverID,
		"uptime":      time.Since(s.startedAt).String(),
		"engine":      s.sup.Status(),
		"subscribers": s.hub.SubscriberCount(),
	}

	if s.ledger != nil {
		recent, err := s.ledger.RecentEvents(r.Context(), 20)
		if err != nil {
			s.logger.Warn("reading recent ledger events", "error", err)
		} else {
			diag["recent_events"] = recent
		}
	}

	s.sendJSON(w, http.StatusOK, diag)
}

// dispatchID extracts the id segment from paths like /tools/{id}/execute.
func dispatchID(path, prefix, action string) (string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != action {
		return "", false
	}
	return parts[0], true
}

// bearerToken pulls the raw bearer token from the request, empty if absent.
func bearerToken(r *http.Request) string {
	token, _ := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	return token
}

// sendRouterError maps router errors onto HTTP status codes.
func (s *Server) sendRouterError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnauthorized) {
		s.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		s.sendJSONError(w, http.StatusBadRequest, validation.Error())
		return
	}
	s.sendJSONError(w, http.StatusInternalServerError, "internal error")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSON writes a JSON response body.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
