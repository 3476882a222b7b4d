package agenthub

import (
	"context"
	"sync"
	"time"

	"github.com/owulveryck/a2ahub/internal/observability"
)

const DefaultMetricsInterval = 30 * time.Second

// MetricsTicker periodically refreshes the process gauges.
type MetricsTicker struct {
	ctx            context.Context
	metricsManager *observability.MetricsManager
	interval       time.Duration
	done           chan struct{}
	stopOnce       sync.Once
}

func NewMetricsTicker(ctx context.Context, metricsManager *observability.MetricsManager, interval time.Duration) *MetricsTicker {
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	return &MetricsTicker{
		ctx:            ctx,
		metricsManager: metricsManager,
		interval:       interval,
		done:           make(chan struct{}),
	}
}

// Start samples once immediately, then on every tick.
func (m *MetricsTicker) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.metricsManager.UpdateSystemMetrics(m.ctx)
		for {
			select {
			case <-ticker.C:
				m.metricsManager.UpdateSystemMetrics(m.ctx)
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

func (m *MetricsTicker) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}
