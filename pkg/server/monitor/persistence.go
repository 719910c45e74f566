package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
)

// maxConsecutiveFailures is the number of failed writes in a row tolerated
// before the gateway is reported degraded.
const maxConsecutiveFailures = 3

// PersistenceMonitor tracks the outcome of rollup writes to the gateway.
type PersistenceMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastFailure       time.Time
	consecutiveErrors int
	totalErrors       uint64
	lastError         string
}

// RecordSuccess records a write that reached storage.
func (pm *PersistenceMonitor) RecordSuccess() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastSuccess = time.Now()
	pm.consecutiveErrors = 0
	pm.lastError = ""
}

// RecordFailure records a failed write.
func (pm *PersistenceMonitor) RecordFailure(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastFailure = time.Now()
	pm.consecutiveErrors++
	pm.totalErrors++
	if err != nil {
		pm.lastError = err.Error()
	}
}

// Observe is a registry.Observer. Only persistence outcomes are recorded;
// rejected statuses say nothing about storage health.
func (pm *PersistenceMonitor) Observe(ev registry.Event) {
	switch {
	case ev.Err == nil:
		pm.RecordSuccess()
	case errors.Is(ev.Err, rollup.ErrPersistence):
		pm.RecordFailure(ev.Err)
	}
}

// IsHealthy reports false after more than three consecutive failed writes.
// A monitor that has seen no writes yet is healthy.
func (pm *PersistenceMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.consecutiveErrors <= maxConsecutiveFailures
}

// PersistenceStatus is the health-check view of a PersistenceMonitor.
type PersistenceStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastFailure       string `json:"last_failure,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	TotalErrors       uint64 `json:"total_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current persistence status for health checks.
func (pm *PersistenceMonitor) Status() PersistenceStatus {
	healthy := pm.IsHealthy()

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := PersistenceStatus{
		Healthy:     healthy,
		TotalErrors: pm.totalErrors,
	}

	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(pm.lastSuccess).Round(time.Second).String()
	}
	if !pm.lastFailure.IsZero() {
		status.LastFailure = pm.lastFailure.Format(time.RFC3339)
	}
	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}

	return status
}
