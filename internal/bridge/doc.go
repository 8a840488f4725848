// Package bridge is the composition root and protocol surface of cad-bridge.
//
// # Overview
//
// The bridge exposes the CAD engine to remote MCP clients over HTTP:
// tool execution, resource reads, event triggering, and SSE event streams.
// It wires together the token verifier, the request router, the event hub,
// the connection supervisor, and the event ledger.
//
// # Router
//
// The Router owns authentication and dispatch. Every request carries a
// bearer token; verification happens before any provider logic runs, so a
// rejected token can never cause side effects. Provider failures, unknown
// ids, and an unreachable engine all come back as structured Results with
// status "error" rather than transport faults.
//
// # Providers
//
// Tools and resources are pluggable:
//
//	srv.RegisterTool("execute", provider)
//	srv.RegisterResource("document", provider)
//
// The built-in engine providers run their commands under the connection
// supervisor, so a restarted engine is redialed transparently. An error the
// engine itself reports (a failed script, say) is a per-request failure and
// does not consume the recovery budget.
//
// # HTTP Surface
//
//	GET  /events?types=a,b       SSE stream (auth middleware)
//	POST /events/{type}          trigger an event
//	POST /subscribe              replace a stream's type filter
//	POST /tools/{id}/execute     run a tool
//	POST /resources/{id}/access  read a resource
//	GET  /health                 liveness, no auth
//	GET  /diagnostics            full status snapshot (auth middleware)
//
// # Event Flow
//
// A triggered event is persisted to the ledger and broadcast to matching
// streams by a wildcard handler registered at construction, before any
// caller-registered handlers run. Connectivity transitions from the
// supervisor are published the same way as connectivity_changed events.
package bridge
