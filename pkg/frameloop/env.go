package frameloop

import (
	"sync"
	"time"
)

// Handle identifies a single pending arm request. Zero means "no pending
// request"; cancelling a zero or stale handle is a harmless no-op.
type Handle uint64

// Callback receives a monotonic timestamp in milliseconds.
//
// Timestamps are comparable across successive calls within one run. They
// are not guaranteed comparable across a Stop/Start boundary when the
// host frame source uses a different epoch than the fallback clock.
type Callback func(ts float64)

// FrameSource is the host environment's per-frame notification primitive.
//
// RequestFrame schedules fn to run once, asynchronously, at the host's
// next frame opportunity and returns a cancellable handle. fn receives
// the source's native timestamp in milliseconds. CancelFrame is
// best-effort and must accept stale or zero handles.
type FrameSource interface {
	RequestFrame(fn func(ts float64)) Handle
	CancelFrame(h Handle)
}

// Env bundles the timing capabilities a Scheduler runs on.
//
// The zero value is valid: no frame source (the timer backend is always
// selected), the process clock, and the default ~60 Hz interval.
type Env struct {
	// Frames is the primary per-frame primitive. Nil means the host does
	// not provide one and the timer backend is substituted.
	Frames FrameSource

	// Now returns a monotonic timestamp in milliseconds. It is read by the
	// timer backend only, since a fixed-interval timer carries no payload.
	// Nil selects the process clock.
	Now func() float64

	// Interval is the timer backend cadence. Zero selects DefaultInterval.
	Interval time.Duration
}

// DefaultInterval approximates a 60 Hz display (1000/60 ms).
const DefaultInterval = time.Second / 60

// backend is an immutable arming primitive pair, resolved once per
// scheduler. The chain holds a copy, so the backend cannot change between
// Start and the next Stop.
type backend struct {
	arm    func(fn Callback) Handle
	cancel func(h Handle)
	timer  bool
}

// caps is the resolved capability set of one environment.
type caps struct {
	frame *backend // nil when the host has no frame source
	timer backend
}

// The timer armory and the process epoch are shared process-wide so that
// constructing many schedulers does not re-probe or duplicate timing
// state.
var (
	sharedOnce  sync.Once
	sharedArm   *timerArmory
	sharedEpoch time.Time
)

func shared() *timerArmory {
	sharedOnce.Do(func() {
		sharedArm = &timerArmory{pending: map[Handle]*time.Timer{}}
		sharedEpoch = time.Now()
	})
	return sharedArm
}

// Now reads the process monotonic clock in milliseconds. It is the
// default timestamp source for the timer backend.
func Now() float64 {
	shared()
	return float64(time.Since(sharedEpoch)) / float64(time.Millisecond)
}

// resolve turns an Env into an immutable capability set. Resolution
// happens once, at construction; the returned descriptors are never
// re-evaluated mid-loop.
func resolve(env Env) caps {
	now := env.Now
	if now == nil {
		now = Now
	}
	interval := env.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	arm := shared()
	c := caps{
		timer: backend{
			arm: func(fn Callback) Handle {
				// The timer fires without a payload; the clock is read at
				// delivery time, just before the callback runs.
				return arm.request(interval, func() { fn(now()) })
			},
			cancel: arm.cancel,
			timer:  true,
		},
	}

	if env.Frames != nil {
		fs := env.Frames
		c.frame = &backend{
			arm:    func(fn Callback) Handle { return fs.RequestFrame(fn) },
			cancel: fs.CancelFrame,
		}
	}
	return c
}

// timerArmory issues single-shot timer arm requests with cancellable
// handles, mirroring the contract of a FrameSource.
type timerArmory struct {
	mu      sync.Mutex
	seq     Handle
	pending map[Handle]*time.Timer
}

func (a *timerArmory) request(d time.Duration, fn func()) Handle {
	a.mu.Lock()
	a.seq++
	h := a.seq
	a.pending[h] = time.AfterFunc(d, func() {
		a.mu.Lock()
		_, live := a.pending[h]
		delete(a.pending, h)
		a.mu.Unlock()
		// A Stop that lost the race against an already-firing timer has
		// removed the entry; the notification must not be delivered then.
		if live {
			fn()
		}
	})
	a.mu.Unlock()
	return h
}

func (a *timerArmory) cancel(h Handle) {
	if h == 0 {
		return
	}
	a.mu.Lock()
	t := a.pending[h]
	delete(a.pending, h)
	a.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}
