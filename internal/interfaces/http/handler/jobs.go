package handler

import (
	"context"
	"time"

	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// JobTrigger runs one tick of a scheduled job on demand
type JobTrigger interface {
	Name() string
	TriggerImmediate(ctx context.Context) error
}

// JobsHandler lets operators run a reconciliation job out of schedule
type JobsHandler struct {
	BaseHandler
	jobs map[string]JobTrigger
}

// NewJobsHandler creates a handler over the given jobs, keyed by their names
func NewJobsHandler(jobs ...JobTrigger) *JobsHandler {
	h := &JobsHandler{jobs: make(map[string]JobTrigger, len(jobs))}
	for _, job := range jobs {
		h.jobs[job.Name()] = job
	}
	return h
}

// RegisterRoutes mounts POST /jobs/:name/trigger
func (h *JobsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/jobs/:name/trigger", h.Trigger)
}

// Trigger runs the named job once and waits for it to finish
func (h *JobsHandler) Trigger(c *gin.Context) {
	name := c.Param("name")
	job, ok := h.jobs[name]
	if !ok {
		h.NotFound(c, "unknown job "+name)
		return
	}

	start := time.Now()
	if err := job.TriggerImmediate(c.Request.Context()); err != nil {
		logger.GetGinLogger(c).Error("Manual job run failed", zap.String("job", name), zap.Error(err))
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.TriggerResponse{Job: name, Duration: time.Since(start).Round(time.Millisecond).String()})
}
