// Package server exposes the health and dead-letter inspection endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/queue"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker interface {
	CheckHealth(ctx context.Context) map[string]error
}

type Jobs interface {
	Stats(ctx context.Context) (map[string]queue.KindStats, error)
	DeadLetters(ctx context.Context) ([]*queue.Job, error)
	RetryDead(ctx context.Context, id string) error
}

const healthTimeout = 5 * time.Second

type Handler struct {
	db        Pinger
	providers HealthChecker
	jobs      Jobs
	logger    *slog.Logger
}

// NewHandler builds the HTTP handlers. db may be nil when running on the
// in-memory repositories.
func NewHandler(db Pinger, providers HealthChecker, jobs Jobs, logger *slog.Logger) *Handler {
	return &Handler{
		db:        db,
		providers: providers,
		jobs:      jobs,
		logger:    logutil.OrDiscard(logger).With("component", "http"),
	}
}

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)

	jobs := r.Group("/jobs")
	{
		jobs.GET("/dead", h.ListDead)
		jobs.POST("/dead/:id/retry", h.RetryDead)
	}

	return r
}

// Health reports the database, each provider and the queue. Provider
// failures degrade the status but do not fail the check; the bot keeps
// working on the remaining providers.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	body := gin.H{}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Database health check failed", "error", err)
			status = "unavailable"
			code = http.StatusServiceUnavailable
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}

	if h.providers != nil {
		providers := gin.H{}
		for name, err := range h.providers.CheckHealth(ctx) {
			if err != nil {
				providers[name] = err.Error()
				if status == "ok" {
					status = "degraded"
				}
				continue
			}
			providers[name] = "ok"
		}
		body["providers"] = providers
	}

	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		h.logger.Warn("Queue health check failed", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
		body["queue"] = err.Error()
	} else {
		body["queue"] = stats
	}

	body["status"] = status
	c.JSON(code, body)
}

func (h *Handler) ListDead(c *gin.Context) {
	jobs, err := h.jobs.DeadLetters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *Handler) RetryDead(c *gin.Context) {
	id := c.Param("id")
	err := h.jobs.RetryDead(c.Request.Context(), id)
	switch {
	case err == nil:
		h.logger.Info("Dead job requeued", "job_id", id)
		c.JSON(http.StatusOK, gin.H{"id": id, "state": "pending"})
	case errors.Is(err, queue.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, queue.ErrJobNotDead):
		c.JSON(http.StatusConflict, gin.H{"error": "job is not dead"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
