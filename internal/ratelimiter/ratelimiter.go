// Package ratelimiter throttles connection admission at accept time.
//
// The reactor thread must never block, so only the non-waiting token check is
// exposed: an accept that finds the bucket empty is rejected, not delayed.
package ratelimiter

import (
	"time"

	"golang.org/x/time/rate"
)

// AcceptLimiter is a token bucket consulted once per accepted socket.
//
// A nil *AcceptLimiter admits everything, so callers can keep the check on
// the hot path without branching on configuration.
//
// Thread safety:
// All methods are safe for concurrent use.
type AcceptLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting perSecond accepts on average with bursts of
// up to burst. A zero perSecond disables limiting and returns nil.
//
// A burst smaller than one would reject every accept, so it is raised to
// perSecond in that case.
func New(perSecond, burst uint) *AcceptLimiter {
	if perSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = perSecond
	}

	return &AcceptLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Admit reports whether one more connection may be accepted now, consuming a
// token when it may.
func (a *AcceptLimiter) Admit() bool {
	if a == nil {
		return true
	}
	return a.limiter.AllowN(time.Now(), 1)
}

// Tokens returns the tokens currently available. Unlimited limiters report -1.
func (a *AcceptLimiter) Tokens() float64 {
	if a == nil {
		return -1
	}
	return a.limiter.Tokens()
}

// Limited reports whether admission is actually throttled.
func (a *AcceptLimiter) Limited() bool {
	return a != nil
}
