package frameloop

import "sync"

// Scheduler owns one frame loop: a single pending arm request, the
// callback it drives, and the backend the current chain runs on.
//
// All state is guarded by a mutex because arm notifications are delivered
// on timer goroutines, but the single-pending-handle contract still
// holds: at most one arm request is outstanding at any time, and the
// callback for frame N always completes before the arm request for frame
// N+1 is issued.
type Scheduler struct {
	mu sync.Mutex

	caps caps

	handle     Handle
	running    bool
	cb         Callback
	usingTimer bool

	// active is the backend selected at Start; it is fixed until the next
	// Stop because every chain closure holds its own copy.
	active backend

	// gen invalidates in-flight notifications of superseded chains.
	// Cancellation is advisory, so a notification can still land after
	// Stop/Restart; a stale generation makes it a harmless no-op.
	gen uint64

	// armSeq orders arm requests; recSeq is the order of the handle
	// currently stored. A notification can consume its handle and re-arm
	// before the arming call site runs record, so record must never let
	// an older handle overwrite a newer one.
	armSeq uint64
	recSeq uint64
}

func nop(float64) {}

// New resolves env into an immutable backend descriptor and returns an
// idle scheduler. Construction is cheap; the fallback timer machinery and
// process clock are shared process-wide.
func New(env Env) *Scheduler {
	return &Scheduler{caps: resolve(env), cb: nop}
}

// Running reports whether the loop is actively re-arming itself.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// UsingTimer reports whether the current (or most recent) chain runs on
// the fallback fixed-interval timer backend.
func (s *Scheduler) UsingTimer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usingTimer
}

// Start begins driving cb once per frame. forceTimer selects the fallback
// timer backend even when the host provides a frame source.
//
// Starting an already-running scheduler is a no-op: it changes neither
// the callback nor the backend, and never creates a second arming chain.
// A nil cb is replaced with a no-op; the scheduler does not otherwise
// validate callback behavior.
func (s *Scheduler) Start(cb Callback, forceTimer bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if cb == nil {
		cb = nop
	}
	s.running = true
	s.cb = cb
	s.usingTimer = forceTimer || s.caps.frame == nil
	if s.usingTimer {
		s.active = s.caps.timer
	} else {
		s.active = *s.caps.frame
	}
	s.gen++
	gen := s.gen
	b := s.active
	s.armSeq++
	seq := s.armSeq
	s.mu.Unlock()

	// Exactly one initial arm. Arming happens outside the lock: the
	// primitive belongs to the host and must not be entered while holding
	// scheduler state.
	s.record(gen, seq, b, b.arm(s.step(gen, b)))
}

// Stop cancels the pending arm request, clears the handle, and installs a
// no-op callback so that a notification racing the cancellation performs
// no observable work. Idempotent: stopping an idle scheduler cancels the
// zero handle, which the primitives accept as a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	h := s.handle
	b := s.active
	s.handle = 0
	s.running = false
	s.cb = nop
	s.gen++
	s.mu.Unlock()

	if b.cancel != nil {
		b.cancel(h)
	}
}

// Restart cancels the pending arm request and immediately re-arms using
// the same backend and callback as before the call, resetting the loop's
// phase. Called while idle it behaves like Start with the previously
// configured callback and backend (after a Stop that callback is the
// no-op Stop installed).
func (s *Scheduler) Restart() {
	s.mu.Lock()
	h := s.handle
	if s.active.arm == nil {
		// Never started: select a backend the way Start would.
		s.usingTimer = s.caps.frame == nil
		if s.usingTimer {
			s.active = s.caps.timer
		} else {
			s.active = *s.caps.frame
		}
	}
	b := s.active
	s.handle = 0
	s.running = true
	s.gen++
	gen := s.gen
	s.armSeq++
	seq := s.armSeq
	s.mu.Unlock()

	b.cancel(h)
	s.record(gen, seq, b, b.arm(s.step(gen, b)))
}

// step builds the re-arm function for one chain. Each delivery runs the
// callback, then issues exactly one arm request for the next frame. This
// recursive immediate re-arm is what keeps the loop alive.
func (s *Scheduler) step(gen uint64, b backend) Callback {
	var fn Callback
	fn = func(ts float64) {
		s.mu.Lock()
		if gen != s.gen {
			// Superseded by Stop/Restart after the notification was
			// already in flight. The chain is dead; do nothing.
			s.mu.Unlock()
			return
		}
		s.running = true
		cb := s.cb
		s.mu.Unlock()

		// A panic here propagates to the caller's handler and the next
		// arm request is never issued: the loop halts silently.
		cb(ts)

		s.mu.Lock()
		if gen != s.gen {
			// Stopped or restarted inside the callback; this chain must
			// not re-arm.
			s.mu.Unlock()
			return
		}
		s.armSeq++
		seq := s.armSeq
		s.mu.Unlock()
		s.record(gen, seq, b, b.arm(fn))
	}
	return fn
}

// record stores the pending handle for a chain. Two races make a handle
// not worth storing: the chain was superseded between arming and
// recording (cancel the fresh request so no orphan survives), or a
// notification fired and re-armed before the arming call site got here
// (the incoming handle is older than the stored one and already
// consumed). Cancelling a consumed handle is a no-op by contract.
func (s *Scheduler) record(gen, seq uint64, b backend, h Handle) {
	s.mu.Lock()
	if gen == s.gen && seq > s.recSeq {
		s.handle = h
		s.recSeq = seq
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	b.cancel(h)
}
