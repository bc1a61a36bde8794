// Package ratelimit implements two limiters: a leaky bucket keyed by
// source address (protecting the gateway from a single noisy client), and
// a sliding-window counter keyed by device_id (bounding how often any one device can attempt
// authentication or be the subject of a mutation, independent of which
// address the request arrived from).
package ratelimit

import (
	"sync"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/paulbellamy/ratecounter"

	"github.com/meshguard/accumulator-gateway/gwerrors"
)

// Limits bundles the two limiter configurations.
type Limits struct {
	// PerSourceRate is requests/second a single source address may sustain,
	// enforced by a leaky bucket (burst-tolerant, smooth drain).
	PerSourceRate float64
	PerSourceBurst int64

	// PerDeviceWindow/PerDeviceMax bound how many mutating operations a
	// single device_id may be the subject of within a sliding window
	// (burst-intolerant — a device being hammered by a compromised caller
	// shouldn't get a grace burst).
	PerDeviceWindow time.Duration
	PerDeviceMax    int64
}

// DefaultLimits is a conservative starting point; production deployments
// are expected to override these via config.
func DefaultLimits() Limits {
	return Limits{
		PerSourceRate:   10,
		PerSourceBurst:  20,
		PerDeviceWindow: time.Minute,
		PerDeviceMax:    5,
	}
}

// LimitsFromConfig converts the gateway's per-minute/per-5-minutes config
// knobs into the Limits this package actually enforces: ipPerMinute becomes
// a requests/second leaky-bucket rate with a one-minute burst allowance,
// devicePer5Minutes becomes the sliding window's max over a 5-minute
// window. A zero value on either falls back to DefaultLimits' corresponding
// field, so an unset config never disables rate limiting outright.
func LimitsFromConfig(ipPerMinute, devicePer5Minutes uint64) Limits {
	limits := DefaultLimits()
	if ipPerMinute > 0 {
		limits.PerSourceRate = float64(ipPerMinute) / 60
		limits.PerSourceBurst = int64(ipPerMinute)
	}
	if devicePer5Minutes > 0 {
		limits.PerDeviceWindow = 5 * time.Minute
		limits.PerDeviceMax = int64(devicePer5Minutes)
	}
	return limits
}

// Limiter enforces both windows. http.Server serves one goroutine per
// request, so AllowSource/AllowDevice can race on the same source address
// or device_id; mu guards both maps against concurrent read-check-write.
type Limiter struct {
	limits Limits

	mu        sync.Mutex
	perSource map[string]*leakybucket.Collector
	perDevice map[[32]byte]*ratecounter.RateCounter
}

// New constructs a Limiter. Per-source and per-device state is created
// lazily on first use, the same pattern leakybucket-go's own Collector
// uses internally for per-key buckets.
func New(limits Limits) *Limiter {
	return &Limiter{
		limits:    limits,
		perSource: make(map[string]*leakybucket.Collector),
		perDevice: make(map[[32]byte]*ratecounter.RateCounter),
	}
}

// AllowSource reports whether a request from sourceAddr may proceed,
// consuming one token from its leaky bucket if so.
func (l *Limiter) AllowSource(sourceAddr string) error {
	l.mu.Lock()
	collector, ok := l.perSource[sourceAddr]
	if !ok {
		collector = leakybucket.NewCollector(l.limits.PerSourceRate, l.limits.PerSourceBurst, true)
		l.perSource[sourceAddr] = collector
	}
	l.mu.Unlock()
	if collector.Add(sourceAddr, 1) == 0 {
		return gwerrors.New(gwerrors.RateLimited, "source address rate limit exceeded")
	}
	return nil
}

// AllowDevice reports whether deviceID may be the subject of another
// mutating operation within the current sliding window.
func (l *Limiter) AllowDevice(deviceID [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	counter, ok := l.perDevice[deviceID]
	if !ok {
		counter = ratecounter.NewRateCounter(l.limits.PerDeviceWindow)
		l.perDevice[deviceID] = counter
	}
	counter.Incr(1)
	if counter.Rate() > l.limits.PerDeviceMax {
		return gwerrors.New(gwerrors.RateLimited, "device operation rate limit exceeded")
	}
	return nil
}
