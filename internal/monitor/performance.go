// Package monitor samples process health on a timer and reports it as
// statsd gauges. Without an agent address configured it still runs, it just
// has nowhere to send the numbers.
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

// GaugeFunc supplies one named reading per sample tick.
type GaugeFunc func() float64

type Performance struct {
	client *statsd.Client
	logger *slog.Logger

	mu     sync.Mutex
	gauges map[string]GaugeFunc
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPerformance connects to the statsd agent when addr is non-empty. A
// missing or unreachable agent degrades to sampling without reporting.
func NewPerformance(addr, namespace string, logger *slog.Logger) *Performance {
	p := &Performance{
		logger: logger,
		gauges: make(map[string]GaugeFunc),
	}

	if addr == "" {
		logger.Info("no statsd agent configured, metrics reporting disabled")
		return p
	}

	client, err := statsd.New(addr)
	if err != nil {
		logger.Warn("creating statsd client", "error", err)
		return p
	}
	client.Namespace = namespace
	p.client = client
	logger.Info("statsd metrics initialized", "addr", addr, "namespace", namespace)
	return p
}

// Register adds a gauge read on every tick. Registering a name twice
// replaces the previous reader.
func (p *Performance) Register(name string, fn GaugeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges[name] = fn
}

// Start samples on the given interval until the context is cancelled or
// Stop is called.
func (p *Performance) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sample()
			}
		}
	}()
}

func (p *Performance) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.gauge("runtime.heap_bytes", float64(mem.HeapAlloc))
	p.gauge("runtime.goroutines", float64(runtime.NumGoroutine()))

	p.mu.Lock()
	readers := make(map[string]GaugeFunc, len(p.gauges))
	for name, fn := range p.gauges {
		readers[name] = fn
	}
	p.mu.Unlock()

	for name, fn := range readers {
		p.gauge(name, fn())
	}
}

func (p *Performance) gauge(name string, value float64) {
	if p.client == nil {
		return
	}
	if err := p.client.Gauge(name, value, nil, 1); err != nil {
		p.logger.Debug("emitting gauge", "metric", name, "error", err)
	}
}

// Stop halts sampling. The monitor may be started again afterwards.
func (p *Performance) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Close stops sampling and flushes the statsd client for good.
func (p *Performance) Close() {
	p.Stop()
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			p.logger.Warn("closing statsd client", "error", err)
		}
		p.client = nil
	}
}
