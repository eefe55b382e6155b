// Package loop hosts the daemon's frame loop.
//
// The service owns a single frameloop.Scheduler and drives the consumer
// callback the daemon was wired with. On top of the raw scheduler it
// adds the operational concerns the library deliberately leaves out:
// structured logging, lifecycle events on the in-process bus (consumed
// by the session journal), config hot reload, an optional
// recover-and-halt boundary around the consumer, and rate-limited
// slow-frame warnings.
//
// Backend choice is fixed for the lifetime of one running chain, so a
// config change that affects the backend (force_timer, interval) is
// applied as a full stop/start cycle.
package loop
