package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"
)

type FeedSourceHandler struct {
	store  *store.Store
	logger *logger.Logger
}

func NewFeedSourceHandler(s *store.Store, logger *logger.Logger) *FeedSourceHandler {
	return &FeedSourceHandler{
		store:  s,
		logger: logger,
	}
}

type createFeedSourceRequest struct {
	CompanyID string `json:"company_id" binding:"required,max=64"`
	Name      string `json:"name" binding:"required,max=150"`
	URL       string `json:"url" binding:"required,url,max=200"`
}

// updateFeedSourceRequest carries the editable fields. The health flag is
// not one of them.
type updateFeedSourceRequest struct {
	Name *string `json:"name" binding:"omitempty,max=150"`
	URL  *string `json:"url" binding:"omitempty,url,max=200"`
}

func (h *FeedSourceHandler) List(c *gin.Context) {
	sources, err := h.store.FeedSources.List(c.Request.Context(), c.Query("company_id"))
	if err != nil {
		h.logger.Error("Failed to list feed sources: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch feed sources"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sources})
}

func (h *FeedSourceHandler) Get(c *gin.Context) {
	source, err := h.store.FeedSources.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed source not found"})
			return
		}
		h.logger.Error("Failed to fetch feed source: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch feed source"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": source})
}

func (h *FeedSourceHandler) Create(c *gin.Context) {
	var req createFeedSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source := models.NewFeedSource(req.CompanyID, req.Name, req.URL)
	if err := h.store.FeedSources.Create(c.Request.Context(), source); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "Feed source already exists for this company"})
			return
		}
		h.logger.Error("Failed to create feed source: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create feed source"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": source})
}

func (h *FeedSourceHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	source, err := h.store.FeedSources.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch feed source"})
		return
	}

	var req updateFeedSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil {
		source.Name = *req.Name
	}
	if req.URL != nil {
		source.URL = *req.URL
	}

	if err := h.store.FeedSources.Save(ctx, source); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Feed source not found"})
		case errors.Is(err, store.ErrDuplicate):
			c.JSON(http.StatusConflict, gin.H{"error": "Feed source already exists for this company"})
		default:
			h.logger.Error("Failed to update feed source: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update feed source"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": source})
}
