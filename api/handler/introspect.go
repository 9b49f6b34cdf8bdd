// Package handler implements the introspection server's HTTP handlers:
// health, target listing, step-list execution, and run-report lookup.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/pilot/engine"
	"github.com/use-agent/pilot/models"
	"github.com/use-agent/pilot/step"
)

func stepRunOptions(stopOnError bool) step.RunOptions {
	return step.RunOptions{StopOnError: stopOnError}
}

// RunStore is the in-memory record of completed runs, keyed by run id,
// consulted by GET /runs/:id. A run is recorded only once it has finished.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]models.RunReport
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]models.RunReport)}
}

// Put records a run's report.
func (s *RunStore) Put(report models.RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[report.ID] = report
}

// Get retrieves a run's report by id.
func (s *RunStore) Get(id string) (models.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// Health reports process uptime; it is intentionally outside auth so
// monitoring probes always work.
func Health(startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(startTime).String(),
		})
	}
}

// Targets lists the discovered targets of every type.
func Targets(d *engine.Driver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		targets, err := d.ListTargets(ctx)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"targets": targets})
	}
}

// runStepsRequest is the JSON body of POST /runs.
type runStepsRequest struct {
	TargetID string           `json:"targetId"`
	RunID    string           `json:"runId"`
	Steps    []map[string]any `json:"steps"`
	StopOnError *bool         `json:"stopOnError,omitempty"`
}

// RunSteps handles POST /runs: execute a step list against targetId.
func RunSteps(d *engine.Driver, runs *RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runStepsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		stopOnError := true
		if req.StopOnError != nil {
			stopOnError = *req.StopOnError
		}
		if req.RunID == "" {
			req.RunID = uuid.NewString()
		}

		report, err := d.Run(c.Request.Context(), req.TargetID, req.RunID, req.Steps, stepRunOptions(stopOnError))
		if err != nil {
			if de := models.AsDriverError(err); de != nil && de.Kind == models.ErrStepValidation {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		runs.Put(report)
		c.JSON(http.StatusOK, report)
	}
}

// GetRun handles GET /runs/:id: look up a previously recorded run report.
func GetRun(runs *RunStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		report, ok := runs.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
