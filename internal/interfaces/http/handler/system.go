package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc"
)

const healthCheckTimeout = 2 * time.Second

// Pinger checks a dependency is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// PingContext calls f
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthResponse reports the service and each dependency
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Failed       []string          `json:"failed"`
}

// SystemHandler serves liveness checks
type SystemHandler struct {
	BaseHandler
	version string
	deps    map[string]Pinger
}

// NewSystemHandler creates a SystemHandler reporting on deps by name
func NewSystemHandler(version string, deps map[string]Pinger) *SystemHandler {
	return &SystemHandler{version: version, deps: deps}
}

// RegisterRoutes mounts /health
func (h *SystemHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
}

// Health handles GET /health at the root, outside the documented API.
// Dependencies are pinged in parallel; any failure makes the service
// unhealthy.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(h.deps))
		failed  []string
		wg      conc.WaitGroup
	)
	for name, dep := range h.deps {
		wg.Go(func() {
			result := "ok"
			err := dep.PingContext(ctx)
			if err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = result
			if err != nil {
				failed = append(failed, name)
			}
		})
	}
	wg.Wait()

	status, state := http.StatusOK, "healthy"
	if len(failed) > 0 {
		sort.Strings(failed)
		status, state = http.StatusServiceUnavailable, "unhealthy"
	}
	c.JSON(status, HealthResponse{
		Status:       state,
		Version:      h.version,
		Dependencies: results,
		Failed:       failed,
	})
}
