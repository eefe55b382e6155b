// Package frameloop drives a per-frame callback at a regular cadence.
//
// # Overview
//
// A Scheduler repeatedly invokes a user callback with a monotonic
// millisecond timestamp, hiding the choice between two timing backends:
// a host-supplied per-frame notification source (e.g. a display vsync
// hook) and a fallback fixed-interval timer at ~60 Hz. The loop is not a
// fixed iteration construct; it is a self-perpetuating chain of
// single-shot arm requests, where each frame's callback fully completes
// before the arm request for the next frame is issued.
//
// # Backends
//
// The backend is fixed for the lifetime of one running chain. It is
// selected when Start is called (forceTimer, or the absence of a frame
// source in the environment) and never re-evaluated mid-loop; switching
// backends requires a full Stop/Start cycle.
//
// # Lifecycle
//
// Start is idempotent while running. Stop cancels the pending request,
// installs a no-op callback and is safe to call repeatedly. Restart
// cancels the pending request and immediately re-arms the same backend
// with the currently configured callback, resetting the loop's phase
// without a burst of catch-up frames.
//
// # Failure semantics
//
// A panic inside the callback is not recovered by the scheduler: the next
// arm request is never issued and the loop halts silently. Callers that
// need resilience must wrap their callback (see the loop service for a
// recover-and-halt wrapper).
package frameloop
