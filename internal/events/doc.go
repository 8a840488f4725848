// Package events provides in-memory event fan-out to subscribed clients.
//
// # Overview
//
// The Hub distributes engine and document events to any number of
// independently subscribed clients. Each client gets its own bounded
// mailbox, so one slow SSE consumer never stalls the others: when a
// mailbox is full, that client's copy of the event is dropped.
//
// # Streams
//
// Clients attach by opening a stream:
//
//	stream := hub.OpenStream(ctx, []string{"document_changed"})
//	defer stream.Close()
//	for {
//	    event, err := stream.Next(ctx)
//	    ...
//	}
//
// The first event on every stream is connection_established carrying the
// generated client_id, which the client quotes back to /subscribe to
// change its filter later.
//
// # Filtering
//
// A subscription lists the event types it wants. The "*" wildcard, or an
// empty list, matches everything. Filters are replaced atomically via
// UpdateSubscription; events broadcast after the swap see only the new
// filter.
//
// # Ordering
//
// Delivery is per-client FIFO: events A, B, C broadcast in that order are
// observed in that order by every subscriber that matches all three.
// There is no cross-client ordering guarantee.
//
// # Keep-Alives
//
// Two mechanisms keep idle connections warm:
//
//   - A per-stream background task pushes a ping into the mailbox on a
//     fixed interval (default 15s).
//   - Next itself gives up waiting after a ceiling (default 30s) and
//     returns a synthetic ping.
//
// Consumers must tolerate pings from either path at any point.
package events
