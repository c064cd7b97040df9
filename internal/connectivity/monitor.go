// Package connectivity turns periodic reachability probes into the host
// connectivity events the offline manager listens for.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/proclean/internal/events"
)

const defaultInterval = 15 * time.Second

var errMissingProber = errors.New("connectivity: prober is required")

// Prober checks whether the remote system is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

type MonitorConfig struct {
	Prober   Prober
	Bus      *events.Bus
	Interval time.Duration
	// ProbeTimeout bounds a single probe. Defaults to the interval.
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

// Monitor publishes an online or offline event whenever the probe outcome
// differs from the previous one. The first probe always publishes.
type Monitor struct {
	prober       Prober
	bus          *events.Bus
	interval     time.Duration
	probeTimeout time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	known bool
	last  bool
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Prober == nil {
		return nil, errMissingProber
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = interval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		prober:       cfg.Prober,
		bus:          cfg.Bus,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       logger,
	}, nil
}

// Check probes once, publishes on an edge, and reports reachability.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Ping(probeCtx)
	cancel()
	online := err == nil
	if err != nil && ctx.Err() == nil {
		m.logger.Debug("connectivity probe failed", zap.Error(err))
	}

	m.mu.Lock()
	changed := !m.known || m.last != online
	m.known = true
	m.last = online
	m.mu.Unlock()

	if changed && ctx.Err() == nil {
		eventType := events.TypeOffline
		if online {
			eventType = events.TypeOnline
		}
		m.logger.Info("connectivity changed", zap.Bool("online", online))
		if m.bus != nil {
			m.bus.Publish(events.Event{Topic: events.TopicHostConnectivity, Type: eventType})
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
