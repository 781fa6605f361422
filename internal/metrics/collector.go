package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// Counts is a snapshot of CRM record counts
type Counts struct {
	Contacts  int
	Campaigns map[string]int
}

// CountsProvider reports CRM record counts for gauges
type CountsProvider interface {
	Counts(ctx context.Context) (*Counts, error)
}

// Collector periodically refreshes gauges that are not driven by events
type Collector struct {
	metrics     *Metrics
	counts      CountsProvider
	storagePath string
	interval    time.Duration
	startTime   time.Time
	logger      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(m *Metrics, counts CountsProvider, storagePath string, interval time.Duration, logger *slog.Logger) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:     m,
		counts:      counts,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start begins refreshing gauges in the background
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	c.Collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect refreshes all gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.counts == nil {
		return
	}
	counts, err := c.counts.Counts(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("failed to collect CRM counts", "error", err)
		}
		return
	}
	c.metrics.Contacts.Set(float64(counts.Contacts))
	c.metrics.Campaigns.Reset()
	for status, n := range counts.Campaigns {
		c.metrics.Campaigns.WithLabelValues(status).Set(float64(n))
	}
}
