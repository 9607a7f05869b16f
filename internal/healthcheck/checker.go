// Package healthcheck periodically probes every enabled connection so that
// stored statuses stay current without operator action.
package healthcheck

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sydlexius/media-reaper/internal/connection"
	"github.com/sydlexius/media-reaper/internal/event"
	"github.com/sydlexius/media-reaper/internal/metrics"
	"github.com/sydlexius/media-reaper/internal/prober"
)

// Lister returns the connections a sweep should probe.
type Lister interface {
	ListEnabled(ctx context.Context) ([]connection.Connection, error)
}

// Tester probes a saved connection and records the result.
type Tester interface {
	TestSaved(ctx context.Context, id string) (prober.Result, error)
}

// Options configures a Checker. Zero values select defaults.
type Options struct {
	Interval    time.Duration
	Concurrency int
	Metrics     *metrics.Metrics
	// TriggerRate limits on-demand probes queued via Trigger.
	TriggerRate rate.Limit
}

// Summary describes one sweep.
type Summary struct {
	Checked   int
	Healthy   int
	Unhealthy int
	Skipped   int
}

// Checker runs periodic sweeps and on-demand probes.
type Checker struct {
	lister      Lister
	tester      Tester
	interval    time.Duration
	concurrency int64
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	logger      *slog.Logger

	trigger chan string
}

// New creates a Checker.
func New(lister Lister, tester Tester, logger *slog.Logger, opts Options) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.TriggerRate <= 0 {
		opts.TriggerRate = rate.Every(time.Second)
	}
	return &Checker{
		lister:      lister,
		tester:      tester,
		interval:    opts.Interval,
		concurrency: int64(opts.Concurrency),
		metrics:     opts.Metrics,
		limiter:     rate.NewLimiter(opts.TriggerRate, 5),
		logger:      logger.With(slog.String("component", "healthcheck")),
		trigger:     make(chan string, 64),
	}
}

// Subscribe queues a probe whenever an enabled connection is created or
// updated.
func (c *Checker) Subscribe(bus *event.Bus) {
	h := func(e event.Event) {
		if enabled, _ := e.Data["enabled"].(bool); enabled {
			c.Trigger(e.ConnectionID)
		}
	}
	bus.Subscribe(event.ConnectionCreated, h)
	bus.Subscribe(event.ConnectionUpdated, h)
}

// Trigger queues an out-of-band probe of id. It never blocks; requests are
// dropped when the queue is full.
func (c *Checker) Trigger(id string) {
	select {
	case c.trigger <- id:
	default:
		c.logger.Warn("health check queue full, dropping trigger", "id", id)
	}
}

// Run sweeps immediately, then every interval, until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.logger.Info("health checker starting", "interval", c.interval, "concurrency", c.concurrency)
	c.sweepAndLog(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("health checker stopped")
			return
		case <-ticker.C:
			c.sweepAndLog(ctx)
		case id := <-c.trigger:
			if err := c.limiter.Wait(ctx); err != nil {
				continue
			}
			c.checkOne(ctx, id)
		}
	}
}

func (c *Checker) sweepAndLog(ctx context.Context) {
	sum, err := c.Sweep(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("health check sweep failed", "error", err)
		}
		return
	}
	c.logger.Info("health check sweep complete",
		"checked", sum.Checked,
		"healthy", sum.Healthy,
		"unhealthy", sum.Unhealthy,
		"skipped", sum.Skipped,
	)
}

// Sweep probes every enabled connection with bounded concurrency.
func (c *Checker) Sweep(ctx context.Context) (Summary, error) {
	conns, err := c.lister.ListEnabled(ctx)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu     sync.Mutex
		sum    Summary
		counts = map[string]map[string]int{}
		wg     sync.WaitGroup
	)
	sem := semaphore.NewWeighted(c.concurrency)

	for _, conn := range conns {
		wg.Add(1)
		go func(conn connection.Connection) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			res, err := c.tester.TestSaved(ctx, conn.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Deleted or cancelled mid-sweep.
				sum.Skipped++
				if !errors.Is(err, connection.ErrNotFound) && !errors.Is(err, context.Canceled) {
					c.logger.Warn("health check failed", "id", conn.ID, "name", conn.Name, "error", err)
				}
				return
			}
			sum.Checked++
			status := string(connection.StatusUnhealthy)
			if res.Success {
				sum.Healthy++
				status = string(connection.StatusHealthy)
			} else {
				sum.Unhealthy++
				c.logger.Info("connection unhealthy", "id", conn.ID, "name", conn.Name,
					"type", string(conn.Type), "reason", res.Message)
			}
			if counts[string(conn.Type)] == nil {
				counts[string(conn.Type)] = map[string]int{}
			}
			counts[string(conn.Type)][status]++
		}(conn)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	c.metrics.SetConnectionCounts(counts)
	return sum, nil
}

func (c *Checker) checkOne(ctx context.Context, id string) {
	res, err := c.tester.TestSaved(ctx, id)
	if err != nil {
		if !errors.Is(err, connection.ErrNotFound) && !errors.Is(err, context.Canceled) {
			c.logger.Warn("triggered health check failed", "id", id, "error", err)
		}
		return
	}
	c.logger.Debug("triggered health check complete", "id", id, "success", res.Success)
}
