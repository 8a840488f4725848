// Package ledger persists broadcast events to SQLite.
//
// The ledger is append-only: every event published through the bridge is
// recorded with its id, type, JSON data, and emission time. The
// /diagnostics endpoint reads recent entries back for debugging; nothing
// in the delivery path depends on the ledger, and a failed write is logged
// rather than failing the broadcast.
package ledger
