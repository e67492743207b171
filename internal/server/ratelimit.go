package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/MeKo-Tech/scanbridge/internal/config"
)

// RateLimiter enforces per-client request rates and daily quotas. Rates use
// fixed windows that open with the first request after the previous window
// expired; quotas reset at local midnight.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	users map[string]*userUsage
	now   func() time.Time
}

type window struct {
	start time.Time
	count int
}

type userUsage struct {
	minute        window
	hour          window
	day           time.Time
	requestsToday int
	dataToday     int64
	lastSeen      time.Time
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	RequestsLastMinute int
	RequestsLastHour   int
	RequestsToday      int
	DataToday          int64
}

// NewRateLimiter creates a rate limiter. A zero limit disables that check.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		users:             make(map[string]*userUsage),
		now:               time.Now,
	}
}

// NewRateLimiterFromConfig returns nil when rate limiting is disabled.
func NewRateLimiterFromConfig(cfg config.RateLimitConfig) *RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	return NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestsPerHour, cfg.MaxRequestsPerDay,
		cfg.MaxDataPerDayMB*1024*1024)
}

// CheckRateLimit counts a request of dataSize bytes from userID, or returns a
// *RateLimitError / *QuotaExceededError without counting it.
func (rl *RateLimiter) CheckRateLimit(userID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.users[userID]
	if !ok {
		u = &userUsage{}
		rl.users[userID] = u
	}
	u.roll(now)

	if rl.requestsPerMinute > 0 && u.minute.count >= rl.requestsPerMinute {
		return &RateLimitError{Type: "minute", Limit: rl.requestsPerMinute, RetryAfter: u.minute.start.Add(time.Minute).Sub(now)}
	}
	if rl.requestsPerHour > 0 && u.hour.count >= rl.requestsPerHour {
		return &RateLimitError{Type: "hour", Limit: rl.requestsPerHour, RetryAfter: u.hour.start.Add(time.Hour).Sub(now)}
	}

	resets := u.day.AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && u.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.maxRequestsPerDay), Used: int64(u.requestsToday), Resets: resets}
	}
	if rl.maxDataPerDay > 0 && u.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.maxDataPerDay, Used: u.dataToday, Resets: resets}
	}

	u.minute.count++
	u.hour.count++
	u.requestsToday++
	u.dataToday += dataSize
	u.lastSeen = now
	return nil
}

func (u *userUsage) roll(now time.Time) {
	if u.minute.start.IsZero() || now.Sub(u.minute.start) >= time.Minute {
		u.minute = window{start: now}
	}
	if u.hour.start.IsZero() || now.Sub(u.hour.start) >= time.Hour {
		u.hour = window{start: now}
	}
	y, m, d := now.Date()
	if day := time.Date(y, m, d, 0, 0, 0, 0, now.Location()); !day.Equal(u.day) {
		u.day = day
		u.requestsToday = 0
		u.dataToday = 0
	}
}

// GetUsage returns the counters for userID as of now.
func (rl *RateLimiter) GetUsage(userID string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.users[userID]
	if !ok {
		return Usage{}
	}
	u.roll(rl.now())
	return Usage{
		RequestsLastMinute: u.minute.count,
		RequestsLastHour:   u.hour.count,
		RequestsToday:      u.requestsToday,
		DataToday:          u.dataToday,
	}
}

// Prune forgets clients idle for longer than idle and returns how many were removed.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for id, u := range rl.users {
		if now.Sub(u.lastSeen) > idle {
			delete(rl.users, id)
			n++
		}
	}
	return n
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
