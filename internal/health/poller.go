package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ops-gateway/internal/broadcast"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
)

// Poller probes backend services on a fixed interval and keeps the most
// recent aggregate snapshot. Probe failures only downgrade the snapshot;
// they are never raised to callers.
type Poller struct {
	services  map[string]string
	probePath string
	interval  time.Duration
	client    *http.Client
	hub       *broadcast.Hub
	logger    *logging.Logger

	mu       sync.RWMutex
	snapshot models.HealthSnapshot
}

// New constructs a Poller over the declared service map.
func New(services map[string]string, probePath string, interval, probeTimeout time.Duration, hub *broadcast.Hub, logger *logging.Logger) *Poller {
	return &Poller{
		services:  services,
		probePath: probePath,
		interval:  interval,
		client:    &http.Client{Timeout: probeTimeout},
		hub:       hub,
		logger:    logger,
		snapshot: models.HealthSnapshot{
			Grade:    models.GradeUnknown,
			Services: map[string]models.ServiceHealth{},
		},
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infof("Health poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Snapshot returns the latest poll result.
func (p *Poller) Snapshot() models.HealthSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	copied := models.HealthSnapshot{
		Grade:     p.snapshot.Grade,
		CheckedAt: p.snapshot.CheckedAt,
		Services:  make(map[string]models.ServiceHealth, len(p.snapshot.Services)),
	}
	for name, svc := range p.snapshot.Services {
		copied.Services[name] = svc
	}
	return copied
}

func (p *Poller) poll(ctx context.Context) {
	results := make(map[string]models.ServiceHealth, len(p.services))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, base := range p.services {
		wg.Add(1)
		go func(name, base string) {
			defer wg.Done()
			svc := p.probe(ctx, base)
			mu.Lock()
			results[name] = svc
			mu.Unlock()
		}(name, base)
	}
	wg.Wait()

	healthy := 0
	for _, svc := range results {
		if svc.Status == models.ServiceOnline {
			healthy++
		}
	}

	snapshot := models.HealthSnapshot{
		Grade:     models.GradeFor(healthy, len(results)),
		Services:  results,
		CheckedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()

	p.hub.Publish("monitor", "health.snapshot", snapshot)
}

func (p *Poller) probe(ctx context.Context, base string) models.ServiceHealth {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+p.probePath, nil)
	if err != nil {
		return models.ServiceHealth{Status: models.ServiceError, Error: err.Error()}
	}

	resp, err := p.client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return models.ServiceHealth{Status: models.ServiceOffline, LatencyMS: latency, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ServiceHealth{
			Status:    models.ServiceError,
			LatencyMS: latency,
			Error:     resp.Status,
		}
	}
	return models.ServiceHealth{Status: models.ServiceOnline, LatencyMS: latency}
}
