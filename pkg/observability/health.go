package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrSchedulerStopped is reported by SchedulerCheck once the scheduler has
// shut down.
var ErrSchedulerStopped = errors.New("scheduler is not running")

// HealthStatus is the aggregate service state reported on /health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck probes one dependency. A failing critical check makes the
// whole service unhealthy; a failing non-critical one only degrades it, so
// /health keeps answering 200 while the history store is unreachable but
// readiness flips off.
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker runs the registered checks on demand.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []*HealthCheck
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus is one check's result inside HealthResponse.
type CheckStatus struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

var (
	globalChecker  *HealthChecker
	startTime      = time.Now()
	version        = "dev"
	initHealthOnce sync.Once
)

// SetVersion sets the version string reported on /health.
func SetVersion(v string) {
	version = v
}

// InitHealthChecker returns the process-wide checker, creating it on first
// call.
func InitHealthChecker() *HealthChecker {
	initHealthOnce.Do(func() {
		globalChecker = &HealthChecker{}
	})
	return globalChecker
}

// RegisterCheck adds a check; re-registering a name replaces the earlier
// entry. A zero timeout gets a 5s default.
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for i, c := range hc.checks {
		if c.Name == check.Name {
			hc.checks[i] = check
			return
		}
	}
	hc.checks = append(hc.checks, check)
}

// Check runs every registered check and aggregates the worst outcome:
// any failing critical check wins, otherwise any degraded check.
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make([]*HealthCheck, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	results := make(map[string]CheckStatus, len(checks))
	overall := HealthStatusHealthy
	for _, check := range checks {
		status := runCheck(ctx, check)
		results[check.Name] = status

		switch status.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(startTime),
		Checks:    results,
	}
}

// runCheck executes one probe under its timeout. The probe runs in its own
// goroutine so a wedged store ping cannot stall the health endpoint past
// the deadline.
func runCheck(ctx context.Context, check *HealthCheck) CheckStatus {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- check.CheckFunc(checkCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}

	status := CheckStatus{
		Status:   HealthStatusHealthy,
		Message:  "OK",
		Duration: time.Since(start).String(),
	}
	if err != nil {
		status.Message = err.Error()
		if check.Critical {
			status.Status = HealthStatusUnhealthy
		} else {
			status.Status = HealthStatusDegraded
		}
	}
	return status
}

// Handler serves the full health report. Degraded still answers 200; only
// an unhealthy service returns 503.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// ReadyHandler is the readiness probe: anything short of fully healthy is
// not ready.
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		status := "ready"
		if response.Status != HealthStatusHealthy {
			status = "not ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

// HealthHandler serves /health from the process-wide checker.
func HealthHandler() http.HandlerFunc {
	return InitHealthChecker().Handler()
}

// LivenessHandler answers as long as the process is serving requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler serves /health/ready from the process-wide checker.
func ReadinessHandler() http.HandlerFunc {
	return InitHealthChecker().ReadyHandler()
}

// HistoryCheck probes the history store. Non-critical: conversation
// scheduling keeps working while archival is down.
func HistoryCheck(pingFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "history",
		CheckFunc: pingFunc,
		Timeout:   5 * time.Second,
		Critical:  false,
	}
}

// SchedulerCheck passes while the scheduler reports itself running.
func SchedulerCheck(runningFunc func() bool) *HealthCheck {
	return &HealthCheck{
		Name: "scheduler",
		CheckFunc: func(ctx context.Context) error {
			if !runningFunc() {
				return ErrSchedulerStopped
			}
			return nil
		},
		Timeout:  1 * time.Second,
		Critical: true,
	}
}
