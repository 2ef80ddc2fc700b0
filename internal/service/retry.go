package service

import (
	"context"
	"math"
	"time"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
)

// Clock abstracts time for the polling loops
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock is the wall clock
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RetryPolicy bounds a polling loop
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	// Multiplier grows the interval after each attempt; values <= 1 keep it fixed
	Multiplier  float64
	MaxInterval time.Duration
	Clock       Clock
}

// Waits are the two bounded waits used by provisioning and proxy attachment
type Waits struct {
	Container RetryPolicy
	Files     RetryPolicy
}

// NewWaits derives the wait policies from configuration
func NewWaits(cfg config.WaitConfig, clock Clock) Waits {
	fileAttempts := int(math.Ceil(float64(cfg.FilesTimeout) / float64(cfg.FilesInterval)))
	if fileAttempts < 1 {
		fileAttempts = 1
	}
	return Waits{
		Container: RetryPolicy{MaxAttempts: cfg.ContainerAttempts, Interval: cfg.ContainerInterval, Clock: clock},
		Files:     RetryPolicy{MaxAttempts: fileAttempts, Interval: cfg.FilesInterval, Clock: clock},
	}
}

// CheckFunc reports whether the awaited condition holds. An error does not
// stop the loop; the last one is attached to the timeout.
type CheckFunc func(ctx context.Context) (bool, error)

// Poll runs check until it reports done or the attempts are exhausted
func (p RetryPolicy) Poll(ctx context.Context, what string, check CheckFunc) error {
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	start := clock.Now()
	interval := p.Interval
	var lastErr error

	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if done {
			metrics.ObserveWait(what, clock.Now().Sub(start), nil)
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if attempt >= attempts {
			break
		}

		select {
		case <-ctx.Done():
			metrics.ObserveWait(what, clock.Now().Sub(start), ctx.Err())
			return apperror.Timeout(what, ctx.Err())
		case <-clock.After(interval):
		}
		interval = p.next(interval)
	}

	timeout := apperror.Timeout(what, lastErr)
	metrics.ObserveWait(what, clock.Now().Sub(start), timeout)
	return timeout
}

func (p RetryPolicy) next(interval time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return interval
	}
	next := time.Duration(float64(interval) * p.Multiplier)
	if p.MaxInterval > 0 && next > p.MaxInterval {
		return p.MaxInterval
	}
	return next
}
