// Package recovery manages the CAD engine connection lifecycle.
//
// # Overview
//
// The engine process restarts freely: scripts reload it, users kill it,
// crashes happen. Every operation that touches the engine runs through a
// Supervisor, which transparently redials and retries until a configured
// budget is spent.
//
// # Policy
//
// Policy is the pure decision core. It holds retry count, current delay,
// and connection state, and never performs I/O:
//
//	p := recovery.NewPolicy(cfg)
//	p.ShouldRetry(attempts)  // attempts < max_retries + 1
//	p.NextDelay()            // min(current * backoff_factor, max_delay)
//	p.RecordSuccess()        // restores the full budget
//
// With max_retries=3, an operation gets 4 total attempts before giving up.
//
// # Supervisor
//
// The Supervisor owns the session handle and an attempt loop:
//
//	sup := recovery.NewSupervisor(cfg, dial, logger)
//	err := sup.Execute(ctx, func(ctx context.Context, h recovery.Handle) error {
//	    conn := h.(*engine.Conn)
//	    return doSomething(ctx, conn)
//	})
//
// A failed attempt closes and discards the session, waits the current delay,
// grows it, and redials. When the budget is exhausted an *ExhaustedError is
// returned; the operation's own result is never silently dropped because it
// wraps the last underlying error.
//
// Cancelling ctx during a backoff wait returns ctx.Err() and leaves the
// retry state untouched.
//
// # Connectivity Notifications
//
// Listeners registered with OnConnectivityChange fire only on actual
// disconnected<->connected transitions. A burst of five consecutive failed
// attempts produces one False; the recovery that follows produces one True.
// Listeners run synchronously and a panicking listener never aborts the
// attempt loop.
package recovery
