package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/turtacn/ChargeAssign/pkg/types/common"
)

// HealthChecker is a dependency the readiness probe verifies.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckerFunc adapts a function to a HealthChecker.
func CheckerFunc(name string, fn func(ctx context.Context) error) HealthChecker {
	return checkerFunc{name: name, fn: fn}
}

// RepositoryChecker fails until ready reports a loaded repository.
func RepositoryChecker(ready func() bool) HealthChecker {
	return CheckerFunc("repository", func(context.Context) error {
		if !ready() {
			return errors.New("no repository loaded")
		}
		return nil
	})
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	timeout  time.Duration
	startAt  time.Time
}

func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		timeout:  5 * time.Second,
		startAt:  time.Now(),
	}
}

// LivenessResponse is the body of GET /healthz.
type LivenessResponse struct {
	Status  common.HealthStatus `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
}

// Liveness always answers 200 while the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  common.HealthUp,
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness answers 200 when every checker passes and 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.check(ctx)
	status := http.StatusOK
	if report.Status != common.HealthUp {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// check runs all checkers concurrently. Components are sorted by name.
func (h *HealthHandler) check(ctx context.Context) common.HealthReport {
	report := common.HealthReport{
		Status:     common.HealthUp,
		Components: make([]common.ComponentHealth, 0, len(h.checkers)),
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			ch := common.ComponentHealth{Name: c.Name(), Status: common.HealthUp}
			if err := c.Check(ctx); err != nil {
				ch.Status = common.HealthDown
				ch.Message = err.Error()
			}
			mu.Lock()
			report.Components = append(report.Components, ch)
			if ch.Status != common.HealthUp {
				report.Status = common.HealthDown
			}
			mu.Unlock()
		}(checker)
	}
	wg.Wait()

	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}
