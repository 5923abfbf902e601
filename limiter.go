package main

import (
	"golang.org/x/time/rate"
)

// AcceptLimiter is a global token bucket ahead of the websocket upgrade. It
// bounds the connection-accept rate, not message traffic. A nil inner limiter
// means rate limiting is disabled.
type AcceptLimiter struct {
	limiter *rate.Limiter
}

// NewAcceptLimiter builds a limiter from the configured sustained rate and
// burst. ratePerSec <= 0 disables limiting.
func NewAcceptLimiter(ratePerSec float64, burst int) *AcceptLimiter {
	if ratePerSec <= 0 {
		return &AcceptLimiter{}
	}
	return &AcceptLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether one more connection may be accepted now.
func (l *AcceptLimiter) Allow() bool {
	if l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}
