package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-string field like loop.interval
// or loop.slow_frame_warn. Empty means "unset" and maps to zero so the
// consuming service picks its own default. Negative values are rejected
// since neither a cadence nor a threshold can be below zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}
