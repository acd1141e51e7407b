// SPDX-License-Identifier: MIT

// Package ratelimit implements the per-box command rate limiter with
// temporary blocking on burst.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/cruxlive/cruxd/internal/log"
)

// Denial reasons, surfaced to callers as HTTP 429 detail.
const (
	ReasonBlocked   = "rate_limited_blocked"
	ReasonPerSecond = "rate_limited_second"
	ReasonPerMinute = "rate_limited_minute"
	ReasonPerType   = "rate_limited_type"
)

var deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cruxd_ratelimit_denied_total",
	Help: "Commands denied by the per-box rate limiter.",
}, []string{"scope"})

// Config tunes the limiter.
type Config struct {
	PerSecond     rate.Limit     // sustained commands per second per box
	Burst         int            // per-second burst
	PerMinute     int            // commands per minute per box
	PerType       map[string]int // per-command-type caps per minute
	BlockDuration time.Duration  // block length after a breach
	IdleWindow    time.Duration  // buckets idle longer than this are pruned
}

// DefaultConfig mirrors production defaults: 20/sec, 300/min, 60s block,
// per-type caps for the chatty command types.
func DefaultConfig() Config {
	return Config{
		PerSecond:     20,
		Burst:         20,
		PerMinute:     300,
		BlockDuration: 60 * time.Second,
		IdleWindow:    5 * time.Minute,
		PerType: map[string]int{
			"PROGRESS_UPDATE": 120,
			"SUBMIT_SCORE":    30,
			"INIT_ROUTE":      10,
			"REGISTER_TIME":   300,
		},
	}
}

type boxBucket struct {
	sec          *rate.Limiter
	minute       []time.Time
	perType      map[string][]time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter tracks per-box command rates.
type Limiter struct {
	mu    sync.Mutex
	cfg   Config
	boxes map[int]*boxBucket
	now   func() time.Time
}

// New returns a limiter with the given config.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:   cfg,
		boxes: map[int]*boxBucket{},
		now:   time.Now,
	}
}

// Allow checks one command against all buckets of the box. On a breach the
// box is blocked for the configured duration and (false, reason) is
// returned.
func (l *Limiter) Allow(boxID int, cmdType string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.boxes[boxID]
	if !ok {
		b = &boxBucket{
			sec:     rate.NewLimiter(l.cfg.PerSecond, l.cfg.Burst),
			perType: map[string][]time.Time{},
		}
		l.boxes[boxID] = b
	}
	b.lastSeen = now

	if now.Before(b.blockedUntil) {
		deniedTotal.WithLabelValues("blocked").Inc()
		return false, ReasonBlocked
	}

	if !b.sec.AllowN(now, 1) {
		b.blockedUntil = now.Add(l.cfg.BlockDuration)
		deniedTotal.WithLabelValues("second").Inc()
		return false, ReasonPerSecond
	}

	cutoff := now.Add(-time.Minute)
	b.minute = pruneBefore(b.minute, cutoff)
	if len(b.minute) >= l.cfg.PerMinute {
		b.blockedUntil = now.Add(l.cfg.BlockDuration)
		deniedTotal.WithLabelValues("minute").Inc()
		return false, ReasonPerMinute
	}

	if typeCap, ok := l.cfg.PerType[cmdType]; ok {
		b.perType[cmdType] = pruneBefore(b.perType[cmdType], cutoff)
		if len(b.perType[cmdType]) >= typeCap {
			b.blockedUntil = now.Add(l.cfg.BlockDuration)
			deniedTotal.WithLabelValues("type").Inc()
			return false, ReasonPerType
		}
		b.perType[cmdType] = append(b.perType[cmdType], now)
	}

	b.minute = append(b.minute, now)
	return true, ""
}

// Cleanup prunes stale timestamps, expired blocks, and idle boxes.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.cfg.IdleWindow)
	for id, b := range l.boxes {
		if b.lastSeen.Before(cutoff) && now.After(b.blockedUntil) {
			delete(l.boxes, id)
			continue
		}
		minuteCutoff := now.Add(-time.Minute)
		b.minute = pruneBefore(b.minute, minuteCutoff)
		for t, ts := range b.perType {
			b.perType[t] = pruneBefore(ts, minuteCutoff)
		}
	}
}

// Run executes the GC loop until ctx is cancelled. interval <= 0 disables
// the loop.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	logger := log.WithComponent("ratelimit")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("cleanup loop stopped")
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
