package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"catalogsync/internal/catalog"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/store"
)

// Syncer is the part of the scheduler the HTTP surface triggers.
type Syncer interface {
	SyncSource(ctx context.Context, sourceID string) (*catalog.RunResult, error)
	StartSweep(ctx context.Context) (string, error)
}

// RequestPublisher queues sync requests for the worker.
type RequestPublisher interface {
	Publish(ctx context.Context, batch ...events.Event) error
}

type SyncHandler struct {
	syncer   Syncer
	progress scheduler.ProgressStore
	requests RequestPublisher
	store    *store.Store
	logger   *logger.Logger
}

// NewSyncHandler builds the handler. requests may be nil, in which case
// asynchronous single-source syncs are unavailable.
func NewSyncHandler(syncer Syncer, progress scheduler.ProgressStore, requests RequestPublisher, s *store.Store, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{
		syncer:   syncer,
		progress: progress,
		requests: requests,
		store:    s,
		logger:   logger,
	}
}

// SyncSource runs one feed source and returns its result. With ?async=true
// the request is queued for the worker instead.
func (h *SyncHandler) SyncSource(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.enqueue(c, id)
		return
	}

	result, err := h.syncer.SyncSource(ctx, id)
	if err != nil {
		h.respondSyncError(c, id, result, err)
		return
	}
	if result.State == catalog.StateInvalidated {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Feed is unreachable, source marked invalid",
			"data":  result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (h *SyncHandler) enqueue(c *gin.Context, id string) {
	if h.requests == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Asynchronous syncs are not configured"})
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.FeedSources.Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch feed source"})
		return
	}
	if err := h.requests.Publish(ctx, events.NewSyncRequested(id)); err != nil {
		h.logger.Error("Failed to queue sync of source %s: %v", id, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue sync"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"source_id": id, "status": "queued"}})
}

func (h *SyncHandler) respondSyncError(c *gin.Context, id string, result *catalog.RunResult, err error) {
	var fieldErr *catalog.FieldError
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed source not found"})
	case errors.Is(err, catalog.ErrMissingID), errors.As(err, &fieldErr), errors.Is(err, catalog.ErrInvalidURL):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "data": result})
	default:
		h.logger.Error("Sync of source %s failed: %v", id, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "data": result})
	}
}

// StartSweep launches a sweep over every healthy source.
func (h *SyncHandler) StartSweep(c *gin.Context) {
	sweepID, err := h.syncer.StartSweep(c.Request.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "A sweep is already running"})
			return
		}
		h.logger.Error("Failed to start sweep: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start sweep"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"sweep_id": sweepID}})
}

// Progress returns the latest progress of a sweep.
func (h *SyncHandler) Progress(c *gin.Context) {
	progress, err := h.progress.Get(c.Request.Context(), c.Param("sweep_id"))
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownSweep) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Sweep not found"})
			return
		}
		h.logger.Error("Failed to fetch sweep progress: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sweep progress"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": progress})
}
