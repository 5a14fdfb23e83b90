package registry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// UpdaterConfig controls the periodic Sync loop.
type UpdaterConfig struct {
	Interval       time.Duration // base sync interval
	InitialBackoff time.Duration // first retry delay after a failure
	MaxBackoff     time.Duration // retry delay cap
	Timeout        time.Duration // bound on a single Sync

	// OnSuccess runs after every successful sync, e.g. to reinstall the PAC.
	OnSuccess func(ctx context.Context)
}

// Start syncs immediately and then on every interval until ctx is done. A
// failed sync is retried after an exponential backoff with jitter until it
// succeeds. It returns nil once ctx is cancelled.
func (r *Registry) Start(ctx context.Context, cfg UpdaterConfig) error {
	if cfg.Interval <= 0 {
		return nil
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if !r.syncWithRetry(ctx, cfg) {
			r.logger.Info(nil, "Registry updater stopped")
			return nil
		}
		ticker.Reset(cfg.Interval)

		select {
		case <-ctx.Done():
			r.logger.Info(nil, "Registry updater stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// syncWithRetry syncs until one attempt succeeds, backing off between
// attempts. It reports false when ctx ends first.
func (r *Registry) syncWithRetry(ctx context.Context, cfg UpdaterConfig) bool {
	var failures int
	for {
		err := r.syncOnce(ctx, cfg.Timeout)
		if err == nil {
			if failures > 0 {
				r.logger.Info(map[string]any{"failures": failures}, "Registry sync recovered")
			}
			if cfg.OnSuccess != nil {
				cfg.OnSuccess(ctx)
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		failures++
		delay := backoff(cfg.InitialBackoff, cfg.MaxBackoff, failures)
		r.logger.Warn(map[string]any{"error": err, "attempt": failures, "backoff": delay.String()}, "Registry sync failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (r *Registry) syncOnce(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.Sync(ctx)
}

// backoff returns initial*2^(failures-1), capped at max, with +/-20% jitter.
func backoff(initial, max time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := time.Duration(float64(initial) * math.Pow(2, float64(failures-1)))
	if d > max || d <= 0 {
		d = max
	}
	const jitterFrac = 0.2
	jitter := time.Duration(rand.Float64()*2*jitterFrac*float64(d)) - time.Duration(jitterFrac*float64(d))
	return d + jitter
}
