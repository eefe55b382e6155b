package loop

import (
	"fmt"
	"sync"
	"time"

	"cadence/internal/eventbus"
	"cadence/pkg/frameloop"
	logx "cadence/pkg/logx"
)

// Topics published on the session bus.
const (
	EventStarted   eventbus.Topic = "loop.started"
	EventStopped   eventbus.Topic = "loop.stopped"
	EventRestarted eventbus.Topic = "loop.restarted"
	EventHalted    eventbus.Topic = "loop.halted"
)

// SessionEvent is the payload of every loop.* event.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Backend   string    `json:"backend"` // "frames" or "timer"
	Started   time.Time `json:"started"`
	Frames    uint64    `json:"frames"`
	Reason    string    `json:"reason,omitempty"` // stop/halt reason
}

// Config controls the loop service.
type Config struct {
	Enabled       bool
	ForceTimer    bool
	Interval      time.Duration // fallback timer cadence; 0 = 1000/60 ms
	RecoverPanics bool
	SlowFrameWarn time.Duration // 0 disables
}

// Consumer is the per-frame callback the daemon drives. It receives a
// monotonic timestamp in milliseconds.
type Consumer func(ts float64)

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	bus    *eventbus.Bus[SessionEvent]
	frames frameloop.FrameSource // host primitive, may be nil
	cons   Consumer

	sched *frameloop.Scheduler

	sessionID string
	startedAt time.Time
	delivered uint64

	slowWarn *logx.Throttle
}

// New wires the service. frames may be nil when the host has no per-frame
// primitive; the fallback timer backend is then always selected.
func New(cfg Config, frames frameloop.FrameSource, cons Consumer, bus *eventbus.Bus[SessionEvent], log logx.Logger) *Service {
	if cons == nil {
		cons = func(float64) {}
	}
	return &Service{
		cfg:    cfg,
		frames: frames,
		cons:   cons,
		bus:    bus,
		log:    log,
		// Slow-frame warnings fire every frame when a consumer misbehaves;
		// keep them readable.
		slowWarn: logx.NewThrottle(5*time.Second, 1),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Running reports whether the loop is actively re-arming itself.
func (s *Service) Running() bool {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	return sched != nil && sched.Running()
}

// Start arms the loop. No-op when disabled or already running.
func (s *Service) Start() {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Debug("loop disabled; not starting")
		return
	}
	if s.sched != nil && s.sched.Running() {
		s.mu.Unlock()
		return
	}
	s.sched = frameloop.New(frameloop.Env{
		Frames:   s.frames,
		Interval: s.cfg.Interval,
	})
	s.sessionID = fmt.Sprintf("session:%d", time.Now().UnixNano())
	s.startedAt = time.Now()
	s.delivered = 0
	sched := s.sched
	force := s.cfg.ForceTimer
	s.mu.Unlock()

	sched.Start(s.frame, force)

	s.mu.Lock()
	ev := s.sessionEventLocked("")
	s.mu.Unlock()
	s.publish(EventStarted, ev)
	s.log.Info("loop started", logx.String("session", ev.SessionID), logx.String("backend", ev.Backend))
}

// Stop disarms the loop. Idempotent; the reason is recorded in the
// journal via the stopped event.
func (s *Service) Stop(reason string) {
	s.mu.Lock()
	sched := s.sched
	if sched == nil {
		s.mu.Unlock()
		return
	}
	wasRunning := sched.Running()
	s.mu.Unlock()

	sched.Stop()
	if !wasRunning {
		return
	}

	s.mu.Lock()
	ev := s.sessionEventLocked(reason)
	s.mu.Unlock()
	s.publish(EventStopped, ev)
	s.log.Info("loop stopped",
		logx.String("session", ev.SessionID),
		logx.Uint64("frames", ev.Frames),
		logx.String("reason", reason))
}

// Restart re-arms the loop in place, resetting its phase without
// changing callback or backend. Useful after the host was suspended for
// a long period and a burst of catch-up frames is undesirable.
func (s *Service) Restart() {
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if sched == nil {
		s.Start()
		return
	}
	sched.Restart()

	s.mu.Lock()
	ev := s.sessionEventLocked("")
	s.mu.Unlock()
	s.publish(EventRestarted, ev)
	s.log.Debug("loop restarted", logx.String("session", ev.SessionID))
}

// Apply installs a new config. Backend-affecting changes (force_timer,
// interval) and enable/disable flips are applied as a full stop/start
// cycle; the backend of a running chain is never hot-swapped.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.sched != nil && s.sched.Running()
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop("disabled via config")
	case running && (old.ForceTimer != cfg.ForceTimer || old.Interval != cfg.Interval):
		s.Stop("backend change via config")
		s.Start()
	case !running && cfg.Enabled && !old.Enabled:
		s.Start()
	}
}

// Session returns the current session's event view (for status output).
func (s *Service) Session() SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionEventLocked("")
}

// frame is the per-frame callback handed to the scheduler. It counts the
// delivery, runs the consumer, and applies the optional operational
// guards. By default a consumer panic is NOT recovered: it propagates
// and the chain halts, exactly like the raw scheduler.
func (s *Service) frame(ts float64) {
	s.mu.Lock()
	s.delivered++
	cfg := s.cfg
	cons := s.cons
	s.mu.Unlock()

	if cfg.RecoverPanics {
		defer func() {
			if r := recover(); r != nil {
				s.halt(fmt.Errorf("consumer panic: %v", r))
			}
		}()
	}

	if cfg.SlowFrameWarn > 0 {
		began := time.Now()
		cons(ts)
		if dur := time.Since(began); dur > cfg.SlowFrameWarn {
			s.slowWarn.Warn(s.log, "slow frame",
				logx.Duration("dur", dur),
				logx.Duration("threshold", cfg.SlowFrameWarn))
		}
		return
	}
	cons(ts)
}

// halt stops the loop after a recovered consumer fault. Only reachable
// with RecoverPanics enabled.
func (s *Service) halt(cause error) {
	s.mu.Lock()
	sched := s.sched
	ev := s.sessionEventLocked(cause.Error())
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	s.publish(EventHalted, ev)
	s.log.Error("loop halted", logx.String("session", ev.SessionID), logx.Err(cause))
}

func (s *Service) sessionEventLocked(reason string) SessionEvent {
	backend := "frames"
	if s.sched == nil || s.sched.UsingTimer() {
		backend = "timer"
	}
	return SessionEvent{
		SessionID: s.sessionID,
		Backend:   backend,
		Started:   s.startedAt,
		Frames:    s.delivered,
		Reason:    reason,
	}
}

func (s *Service) publish(topic eventbus.Topic, ev SessionEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, ev)
}
