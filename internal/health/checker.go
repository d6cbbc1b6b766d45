// Package health runs periodic self-checks of the daemon's dependencies
// (ledger integrity, storage directories, the database) and reports the
// aggregate state served on /healthz.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one component and returns nil when it is healthy.
type Probe func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(component string, success bool)

// DispatchFunc is an optional callback for alerting on state transitions.
type DispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// Event types passed to the DispatchFunc.
const (
	EventDegraded  = "health.degraded"
	EventRecovered = "health.recovered"
)

// ComponentStatus is the last known state of one component.
type ComponentStatus struct {
	Healthy     bool      `json:"healthy"`
	Error       string    `json:"error,omitempty"`
	FailCount   int       `json:"fail_count"`
	LastChecked time.Time `json:"last_checked"`
}

// Status is the aggregate state returned by Checker.Status.
type Status struct {
	Status     string                     `json:"status"` // "ok" or "degraded"
	Components map[string]ComponentStatus `json:"components"`
}

// Healthy reports whether every component is healthy.
func (s Status) Healthy() bool { return s.Status == "ok" }

// Checker runs the registered probes periodically.
type Checker struct {
	probes    map[string]Probe
	mu        sync.Mutex
	state     map[string]ComponentStatus
	cfg       Config
	onMetrics MetricsRecordFunc
	onAlert   DispatchFunc
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a new Checker for probes keyed by component name.
func New(probes map[string]Probe, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 1
	}

	state := make(map[string]ComponentStatus, len(probes))
	for name := range probes {
		state[name] = ComponentStatus{Healthy: true}
	}
	return &Checker{
		probes: probes,
		state:  state,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// SetDispatch configures the transition alert callback.
func (h *Checker) SetDispatch(fn DispatchFunc) {
	h.onAlert = fn
}

// Run runs the check loop until ctx is cancelled.
func (h *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe concurrently and updates the component states.
// A component is reported unhealthy once it has failed FailThreshold times
// in a row; a single success clears it.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, probe := range h.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := probe(pctx)
			cancel()
			h.record(ctx, name, err)
		}()
	}
	wg.Wait()
}

func (h *Checker) record(ctx context.Context, name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	prev := h.state[name]
	next := ComponentStatus{LastChecked: h.now().UTC()}
	if err == nil {
		next.Healthy = true
	} else {
		next.FailCount = prev.FailCount + 1
		next.Healthy = next.FailCount < h.cfg.FailThreshold
		next.Error = err.Error()
	}
	h.state[name] = next
	h.mu.Unlock()

	switch {
	case prev.Healthy && !next.Healthy:
		h.logger.Error("health: degraded",
			zap.String("component", name),
			zap.Int("fail_count", next.FailCount),
			zap.Error(err),
		)
		h.alert(ctx, EventDegraded, map[string]string{"component": name, "error": next.Error})
	case !prev.Healthy && next.Healthy:
		h.logger.Info("health: recovered", zap.String("component", name))
		h.alert(ctx, EventRecovered, map[string]string{"component": name})
	}
}

func (h *Checker) alert(ctx context.Context, eventType string, payload map[string]string) {
	if h.onAlert != nil {
		h.onAlert(ctx, eventType, payload)
	}
}

// Status returns a snapshot of every component.
func (h *Checker) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{Status: "ok", Components: make(map[string]ComponentStatus, len(h.state))}
	for name, c := range h.state {
		st.Components[name] = c
		if !c.Healthy {
			st.Status = "degraded"
		}
	}
	return st
}
