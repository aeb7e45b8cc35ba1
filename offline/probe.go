package offline

import (
	"context"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/sirupsen/logrus"
)

// HealthChecker is implemented by Client.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Prober is an optional connectivity source for platforms without
// connectivity events: it probes the server health endpoint on an interval
// and keeps a moving average of the round-trip latency.
type Prober struct {
	checker  HealthChecker
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger

	mu      sync.Mutex
	latency *movingaverage.MovingAverage
	samples int
}

// NewProber builds a prober. Interval defaults to 30s.
func NewProber(checker HealthChecker, monitor *Monitor, interval time.Duration, log logrus.FieldLogger) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = defaultLogger()
	}
	return &Prober{
		checker:  checker,
		monitor:  monitor,
		interval: interval,
		timeout:  3 * time.Second,
		log:      log,
		latency:  movingaverage.New(10),
	}
}

// Probe runs one health check and reports it to the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status := p.checker.Health(ctx)
	if status.OK {
		p.mu.Lock()
		p.latency.Add(float64(status.Latency/time.Microsecond) / 1000.0)
		p.samples++
		p.mu.Unlock()
	} else if status.Err != nil {
		p.log.WithError(status.Err).Debug("health probe failed")
	}
	p.monitor.SetOnline(status.OK)
	return status.OK
}

// AvgLatency returns the moving average latency of successful probes.
func (p *Prober) AvgLatency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples == 0 {
		return 0
	}
	return time.Duration(p.latency.Avg() * float64(time.Millisecond))
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
