package engine

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/madfam-io/sim4d-sub012/pkg/cache"
	"github.com/madfam-io/sim4d-sub012/pkg/kernel"
)

// Config tunes an Engine. Zero values are replaced by defaults in New.
type Config struct {
	// Workers is the maximum number of kernel calls in flight. Defaults to
	// the bridge's Capacity when it reports one, else the number of CPUs.
	Workers int

	// KernelTimeout bounds a single attempt. Defaults to 30 seconds.
	KernelTimeout time.Duration

	// MaxAttempts bounds retries of transient failures, including the
	// first attempt. Defaults to 3.
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the exponential retry delay.
	// Defaults are 50ms and 2s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// EventBuffer is the default channel size for Subscribe. Defaults to 256.
	EventBuffer int

	// Cache is shared by the engine. When nil, one is built from CacheOptions.
	Cache        *cache.Cache
	CacheOptions []cache.Option

	// Registerer receives the engine's metrics. When nil a private
	// registry is used, available from Engine.Gatherer.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

func (c *Config) applyDefaults(bridge kernel.Bridge) {
	if c.Workers <= 0 {
		if cp, ok := bridge.(kernel.Capacitor); ok && cp.Capacity() > 0 {
			c.Workers = cp.Capacity()
		} else {
			c.Workers = runtime.NumCPU()
		}
	}
	if c.KernelTimeout <= 0 {
		c.KernelTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Cache == nil {
		c.Cache = cache.New(c.CacheOptions...)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
