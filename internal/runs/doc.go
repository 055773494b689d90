// Package runs tracks which agent run owns which session and exposes
// cooperative cancellation. A session has at most one registered run at a
// time (last writer wins; the replaced run is orphan-cancelled), and a run
// can only be cancelled by the session that owns it.
package runs
