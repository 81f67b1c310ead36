package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Checker is one named liveness probe a HealthManager aggregates.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a healthy /healthz response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// HealthManager aggregates named Checkers into one overall status.
type HealthManager struct {
	mu       sync.Mutex
	version  string
	checkers map[string]Checker
}

// NewHealthManager returns a manager reporting version on success.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version, checkers: make(map[string]Checker)}
}

// RegisterChecker adds or replaces the named checker.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// HealthHandler runs every registered checker and responds 200 when
// every check is healthy, 503 otherwise.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.Unlock()

	checks := make(map[string]string, len(checkers))
	for name, c := range checkers {
		checks[name] = probe(r.Context(), c)
	}

	status := m.determineOverallStatus(checks)
	if status != "healthy" {
		respondWithError(w, r, &healthError{status: status, checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: status, Version: m.version, Checks: checks})
}

func probe(parent context.Context, c Checker) string {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()
	switch err := c.CheckHealth(ctx); {
	case err == nil:
		return "healthy"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unhealthy"
	}
}

// determineOverallStatus folds individual check results into one
// status: any non-timeout failure makes the whole service unhealthy;
// a bare timeout only degrades it.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, v := range checks {
		switch v {
		case "healthy":
		case "timeout":
			degraded = true
		default:
			return "unhealthy"
		}
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

type healthError struct {
	status string
	checks map[string]string
}

func (e *healthError) Error() string { return "service " + e.status }

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide health manager used by
// the package-level Handler functions.
func InitHealthManager(version string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil if
// InitHealthManager was never called.
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

// HealthHandler is the package-level /healthz handler.
func HealthHandler(w http.ResponseWriter, r *http.Request) { dispatchGlobal(w, r, (*HealthManager).HealthHandler) }

func dispatchGlobal(w http.ResponseWriter, r *http.Request, fn func(*HealthManager, http.ResponseWriter, *http.Request)) {
	m := GetHealthManager()
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "health manager not initialized")
		return
	}
	fn(m, w, r)
}
