// Package ratelimit implements the rate limiter (C2): a four-window quota
// per credential, backed by Redis fixed-window counters. Each window's
// count resets at its bucket boundary; the windows do not slide.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/richtunnel/partnerstestapi/internal/auth"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
)

// Window identifies one of the four fixed windows evaluated per request.
type Window string

const (
	WindowBurst  Window = "burst"
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// orderedWindows is evaluated in this order; the first window found at or
// above its limit is reported as "the most-restrictive window."
var orderedWindows = []Window{WindowBurst, WindowMinute, WindowHour, WindowDay}

func windowDuration(w Window) time.Duration {
	switch w {
	case WindowBurst:
		return 10 * time.Second
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return time.Minute
}

func windowLimit(w Window, profile auth.RateLimitProfile) int {
	switch w {
	case WindowBurst:
		return profile.BurstLimit
	case WindowMinute:
		return profile.MinuteLimit
	case WindowHour:
		return profile.HourLimit
	case WindowDay:
		return profile.DayLimit
	}
	return profile.MinuteLimit
}

// Result is returned by TryConsume.
type Result struct {
	Allowed   bool
	Remaining int
	Window    Window
	ResetAt   time.Time
	Limit     int
}

// Limiter enforces the four-window quota using Redis INCR/EXPIRE.
type Limiter struct {
	rdb      *redis.Client
	logger   *slog.Logger
	degraded atomic.Bool
}

// New creates a Limiter backed by rdb.
func New(rdb *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{rdb: rdb, logger: logger}
}

// Degraded reports whether the limiter is currently running in fail-open
// mode because its backing store was unreachable on the last check.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

func bucketKey(credentialID uuid.UUID, w Window, bucketIndex int64) string {
	return fmt.Sprintf("rate_limit:%s:%s:%d", credentialID, w, bucketIndex)
}

func bucketIndex(w Window, now time.Time) int64 {
	return now.UnixMilli() / windowDuration(w).Milliseconds()
}

// TryConsume implements the C2 contract: try_consume(credential_id, profile)
// -> {allowed, remaining, window_type, reset_at, limit}. All four window
// counters are read in one pipelined round-trip and, if the request is
// allowed, incremented in a second.
func (l *Limiter) TryConsume(ctx context.Context, credentialID uuid.UUID, profile auth.RateLimitProfile) (*Result, error) {
	now := time.Now()
	keys := make(map[Window]string, len(orderedWindows))
	indices := make(map[Window]int64, len(orderedWindows))
	for _, w := range orderedWindows {
		idx := bucketIndex(w, now)
		indices[w] = idx
		keys[w] = bucketKey(credentialID, w, idx)
	}

	getPipe := l.rdb.Pipeline()
	cmds := make(map[Window]*redis.StringCmd, len(orderedWindows))
	for _, w := range orderedWindows {
		cmds[w] = getPipe.Get(ctx, keys[w])
	}
	_, err := getPipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return l.failOpen(profile, now), nil
	}
	l.degraded.Store(false)

	counts := make(map[Window]int, len(orderedWindows))
	for _, w := range orderedWindows {
		n, cerr := cmds[w].Int()
		if cerr != nil && cerr != redis.Nil {
			return l.failOpen(profile, now), nil
		}
		counts[w] = n
	}

	for _, w := range orderedWindows {
		limit := windowLimit(w, profile)
		if counts[w] >= limit {
			resetAt := time.UnixMilli((indices[w] + 1) * windowDuration(w).Milliseconds())
			telemetry.RateLimitRejectedTotal.WithLabelValues(string(w)).Inc()
			return &Result{
				Allowed:   false,
				Remaining: 0,
				Window:    w,
				ResetAt:   resetAt,
				Limit:     limit,
			}, nil
		}
	}

	incrPipe := l.rdb.Pipeline()
	for _, w := range orderedWindows {
		d := windowDuration(w)
		incrPipe.Incr(ctx, keys[w])
		incrPipe.Expire(ctx, keys[w], d+d/10)
	}
	if _, err := incrPipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limiter failed to record consumption", "error", err)
	}

	minuteLimit := windowLimit(WindowMinute, profile)
	remaining := minuteLimit - counts[WindowMinute] - 1
	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.UnixMilli((indices[WindowMinute] + 1) * windowDuration(WindowMinute).Milliseconds())

	return &Result{
		Allowed:   true,
		Remaining: remaining,
		Window:    WindowMinute,
		ResetAt:   resetAt,
		Limit:     minuteLimit,
	}, nil
}

// failOpen implements "fail-open for minute window only" degraded mode: the
// backing store is unavailable, so every window except minute is treated as
// satisfied, and the minute window's remaining quota is reported
// optimistically. The limiter is marked degraded, which Degraded reports;
// the health checks do not read that flag.
func (l *Limiter) failOpen(profile auth.RateLimitProfile, now time.Time) *Result {
	l.degraded.Store(true)
	l.logger.Warn("rate limit store unavailable, failing open for minute window")
	return &Result{
		Allowed:   true,
		Remaining: profile.MinuteLimit,
		Window:    WindowMinute,
		ResetAt:   now.Add(time.Minute),
		Limit:     profile.MinuteLimit,
	}
}
