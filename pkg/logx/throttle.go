package logx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle gates a high-frequency log site. A site that would otherwise
// fire every frame is limited to a sustained rate; suppressed events are
// counted so the next admitted line can report how many were lost.
type Throttle struct {
	lim        *rate.Limiter
	mu         sync.Mutex
	suppressed uint64
}

// NewThrottle admits one event per interval with the given burst.
func NewThrottle(interval time.Duration, burst int) *Throttle {
	if interval <= 0 {
		interval = time.Second
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{lim: rate.NewLimiter(rate.Every(interval), burst)}
}

// Allow reports whether the next event may be logged, counting it as
// suppressed otherwise.
func (t *Throttle) Allow() bool {
	if t.lim.Allow() {
		return true
	}
	t.mu.Lock()
	t.suppressed++
	t.mu.Unlock()
	return false
}

// Warn logs at warn level when the throttle admits the event. An
// admitted event that follows suppressed ones carries their count.
func (t *Throttle) Warn(l Logger, msg string, fields ...Field) {
	if !t.Allow() {
		return
	}
	t.mu.Lock()
	n := t.suppressed
	t.suppressed = 0
	t.mu.Unlock()
	if n > 0 {
		fields = append(fields, Uint64("suppressed", n))
	}
	l.Warn(msg, fields...)
}
