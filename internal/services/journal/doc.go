// Package journal persists loop session lifecycle to SQLite.
//
// It subscribes to the in-process event bus and records one row per loop
// session: backend, start/stop times, frames delivered, and the stop or
// halt reason. Rows older than the configured retention are pruned on a
// cron schedule (daily by default).
//
// The journal records lifecycle facts only; it does not compute frame
// rates or timing statistics.
package journal
