package frameloop

import (
	"sync"
	"testing"
	"time"
)

// fakeFrames is a hand-cranked FrameSource: requests queue up and the
// test delivers them explicitly with fire().
type fakeFrames struct {
	mu        sync.Mutex
	seq       Handle
	pending   map[Handle]func(float64)
	requests  int
	cancelled []Handle
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{pending: map[Handle]func(float64){}}
}

func (f *fakeFrames) RequestFrame(fn func(float64)) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.requests++
	f.pending[f.seq] = fn
	return f.seq
}

func (f *fakeFrames) CancelFrame(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, h)
	delete(f.pending, h)
}

func (f *fakeFrames) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// fire delivers the single pending notification, honoring cancellation.
func (f *fakeFrames) fire(ts float64) bool {
	f.mu.Lock()
	var h Handle
	var fn func(float64)
	for k, v := range f.pending {
		h, fn = k, v
	}
	delete(f.pending, h)
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(ts)
	return true
}

// fireStale delivers a notification whose handle was already cancelled,
// simulating the race between Stop and an in-flight frame.
func fireStale(fn func(float64), ts float64) {
	fn(ts)
}

func TestFrameBackendSequencing(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	var got []float64
	s.Start(func(ts float64) {
		got = append(got, ts)
		// The arm request for the next frame must not exist yet: the
		// callback completes strictly before re-arming.
		if n := env.pendingCount(); n != 0 {
			t.Errorf("pending request during callback: %d", n)
		}
		if !s.Running() {
			t.Error("not running during callback")
		}
	}, false)

	if s.UsingTimer() {
		t.Fatal("frame source available, timer backend selected")
	}
	for _, ts := range []float64{16, 33, 50} {
		if !env.fire(ts) {
			t.Fatalf("no pending request before ts=%v", ts)
		}
	}

	if len(got) != 3 {
		t.Fatalf("callback invocations = %d, want 3", len(got))
	}
	for i, want := range []float64{16, 33, 50} {
		if got[i] != want {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want)
		}
	}
	if env.pendingCount() != 1 {
		t.Fatalf("pending after 3 frames = %d, want 1", env.pendingCount())
	}

	s.Stop()
	if env.pendingCount() != 0 {
		t.Fatalf("pending after stop = %d, want 0", env.pendingCount())
	}
}

// eagerFrames delivers the very first requested frame synchronously,
// inside RequestFrame, before the handle reaches the caller. Re-arms
// issued during that delivery queue up normally.
type eagerFrames struct {
	fakeFrames
	delivered bool
}

func (f *eagerFrames) RequestFrame(fn func(float64)) Handle {
	h := f.fakeFrames.RequestFrame(fn)
	if !f.delivered {
		f.delivered = true
		f.mu.Lock()
		delete(f.pending, h)
		f.mu.Unlock()
		fn(1)
	}
	return h
}

func TestReentrantFirstFrameLeavesNoOrphan(t *testing.T) {
	t.Parallel()
	env := &eagerFrames{}
	env.pending = map[Handle]func(float64){}
	s := New(Env{Frames: env})

	calls := 0
	s.Start(func(float64) { calls++ }, false)

	if calls != 1 {
		t.Fatalf("callback invocations = %d, want 1", calls)
	}
	if env.pendingCount() != 1 {
		t.Fatalf("pending after synchronous first frame = %d, want 1", env.pendingCount())
	}

	// The tracked handle must be the live re-arm, not the consumed
	// initial one: Stop has to end the chain completely.
	s.Stop()
	if env.pendingCount() != 0 {
		t.Fatalf("stop cancelled a stale handle; live request leaked: pending = %d", env.pendingCount())
	}
}

func TestStartIdempotent(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	var first, second int
	s.Start(func(float64) { first++ }, false)
	// Different callback, different backend flag: both must be ignored.
	s.Start(func(float64) { second++ }, true)

	if env.requests != 1 {
		t.Fatalf("arm requests = %d, want 1 (double start must not double-arm)", env.requests)
	}
	if s.UsingTimer() {
		t.Fatal("second start changed the backend")
	}

	env.fire(10)
	env.fire(20)
	if first != 2 || second != 0 {
		t.Fatalf("first=%d second=%d, want 2/0", first, second)
	}

	// One cancellation suffices to halt all pending notifications.
	s.Stop()
	if env.pendingCount() != 0 {
		t.Fatalf("pending after stop = %d", env.pendingCount())
	}
	if s.Running() {
		t.Fatal("running after stop")
	}
}

func TestStopBeforeFirstFrame(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	calls := 0
	s.Start(func(float64) { calls++ }, false)
	s.Stop()

	if calls != 0 {
		t.Fatalf("callback invoked %d times, want 0", calls)
	}
	if env.pendingCount() != 0 {
		t.Fatalf("pending after stop = %d", env.pendingCount())
	}
	if len(env.cancelled) == 0 {
		t.Fatal("stop did not cancel the pending handle")
	}
}

func TestStopSilencesRacingNotification(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	calls := 0
	s.Start(func(float64) { calls++ }, false)

	// Grab the armed step before stopping, then deliver it anyway:
	// cancellation is advisory, not transactional.
	env.mu.Lock()
	var armed func(float64)
	for _, fn := range env.pending {
		armed = fn
	}
	env.mu.Unlock()

	s.Stop()
	fireStale(armed, 99)

	if calls != 0 {
		t.Fatalf("racing notification invoked the real callback %d times", calls)
	}
	if s.Running() {
		t.Fatal("racing notification resurrected the loop")
	}
	if env.pendingCount() != 0 {
		t.Fatalf("racing notification re-armed: pending = %d", env.pendingCount())
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	s.Start(func(float64) {}, false)
	s.Stop()
	s.Stop() // cancels the zero handle, re-clears clear state
	if s.Running() {
		t.Fatal("running after double stop")
	}
}

func TestRestartPreservesCallbackAndBackend(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	calls := 0
	s.Start(func(float64) { calls++ }, false)
	env.fire(16)

	s.Restart()
	if !s.Running() {
		t.Fatal("not running after restart")
	}
	if s.UsingTimer() {
		t.Fatal("restart switched backends")
	}
	if env.pendingCount() != 1 {
		t.Fatalf("pending after restart = %d, want 1", env.pendingCount())
	}

	env.fire(32)
	if calls != 2 {
		t.Fatalf("callback invocations = %d, want 2 (restart must keep the callback)", calls)
	}
	s.Stop()
}

func TestRestartWhileIdleStartsChain(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	s.Restart()
	if !s.Running() {
		t.Fatal("not running after idle restart")
	}
	if env.pendingCount() != 1 {
		t.Fatalf("pending after idle restart = %d, want 1", env.pendingCount())
	}
	// The previously configured callback is the default no-op; delivering
	// a frame keeps the chain alive without observable work.
	env.fire(5)
	if env.pendingCount() != 1 {
		t.Fatalf("chain did not re-arm: pending = %d", env.pendingCount())
	}
	s.Stop()
}

func TestCallbackPanicHaltsChain(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env})

	s.Start(func(float64) { panic("consumer bug") }, false)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic did not propagate")
			}
		}()
		env.fire(16)
	}()

	// The next arm request was never issued: the loop halted silently.
	if env.pendingCount() != 0 {
		t.Fatalf("pending after panic = %d, want 0", env.pendingCount())
	}
	// Running still reads true; the owner detects the halt via the absence
	// of further invocations.
	if !s.Running() {
		t.Fatal("running flipped despite unguarded panic semantics")
	}
}

func TestFallbackSelection(t *testing.T) {
	t.Parallel()
	s := New(Env{Interval: time.Millisecond})

	ticks := make(chan float64, 16)
	s.Start(func(ts float64) { ticks <- ts }, false)
	defer s.Stop()

	if !s.UsingTimer() {
		t.Fatal("no frame source, but timer backend not selected")
	}

	var prev float64
	for i := 0; i < 3; i++ {
		select {
		case ts := <-ticks:
			if ts < prev {
				t.Fatalf("timestamps not monotonic: %v after %v", ts, prev)
			}
			prev = ts
		case <-time.After(2 * time.Second):
			t.Fatalf("timer backend delivered %d frames, want 3", i)
		}
	}
}

func TestForceTimerOverridesFrameSource(t *testing.T) {
	t.Parallel()
	env := newFakeFrames()
	s := New(Env{Frames: env, Interval: time.Millisecond})

	ticks := make(chan struct{}, 16)
	s.Start(func(float64) { ticks <- struct{}{} }, true)
	defer s.Stop()

	if !s.UsingTimer() {
		t.Fatal("forceTimer ignored")
	}
	if env.requests != 0 {
		t.Fatalf("frame source armed %d times despite forceTimer", env.requests)
	}
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("timer backend never fired")
	}
}

func TestTimerStopEndsDelivery(t *testing.T) {
	t.Parallel()
	s := New(Env{Interval: time.Millisecond})

	var mu sync.Mutex
	calls := 0
	started := make(chan struct{}, 1)
	s.Start(func(float64) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case started <- struct{}{}:
		default:
		}
	}, false)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never started")
	}
	s.Stop()

	mu.Lock()
	after := calls
	mu.Unlock()
	// Allow a few intervals to elapse; the count must settle.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	final := calls
	mu.Unlock()
	if final > after+1 {
		t.Fatalf("callback kept firing after stop: %d -> %d", after, final)
	}
	if s.Running() {
		t.Fatal("running after stop")
	}
}

func TestEnvClockOverride(t *testing.T) {
	t.Parallel()
	fixed := 0.0
	s := New(Env{
		Now:      func() float64 { fixed += 100; return fixed },
		Interval: time.Millisecond,
	})

	ticks := make(chan float64, 4)
	s.Start(func(ts float64) { ticks <- ts }, false)
	defer s.Stop()

	select {
	case ts := <-ticks:
		if ts != 100 {
			t.Fatalf("first timestamp = %v, want 100 (env clock)", ts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer backend never fired")
	}
}

func TestProcessClockMonotonic(t *testing.T) {
	t.Parallel()
	a := Now()
	time.Sleep(2 * time.Millisecond)
	b := Now()
	if b <= a {
		t.Fatalf("process clock not monotonic: %v then %v", a, b)
	}
}
