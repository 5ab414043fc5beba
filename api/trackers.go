package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// TrackerService is the subset of tracker lifecycle operations the HTTP
// layer depends on (spec.md §3's "Lifecycle" and §6's tracker routes).
type TrackerService interface {
	Create(ctx context.Context, t *model.Tracker) (*model.Tracker, error)
	List(ctx context.Context, tags []string) ([]*model.Tracker, error)
	Get(ctx context.Context, id string) (*model.Tracker, error)
	Update(ctx context.Context, id string, patch updateTrackerRequest) (*model.Tracker, error)
	Delete(ctx context.Context, id string) error
	DeleteByTag(ctx context.Context, tag string) (int, error)
}

// TrackerHandler implements the tracker CRUD routes.
type TrackerHandler struct {
	svc TrackerService
}

// NewTrackerHandler builds a TrackerHandler over svc.
func NewTrackerHandler(svc TrackerService) *TrackerHandler {
	return &TrackerHandler{svc: svc}
}

// Create handles POST /api/trackers.
func (h *TrackerHandler) Create(c *gin.Context) {
	var req createTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	tracker := &model.Tracker{
		Name:    req.Name,
		Target:  req.Target,
		Actions: req.Actions,
		Tags:    req.Tags,
		Enabled: true,
	}
	if req.Config != nil {
		tracker.Config = *req.Config
	}

	created, err := h.svc.Create(c.Request.Context(), tracker)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// List handles GET /api/trackers?tag=<t>, repeatable with AND semantics.
func (h *TrackerHandler) List(c *gin.Context) {
	tags := c.QueryArray("tag")
	out, err := h.svc.List(c.Request.Context(), tags)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Get handles GET /api/trackers/{id}.
func (h *TrackerHandler) Get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Update handles PUT /api/trackers/{id}.
func (h *TrackerHandler) Update(c *gin.Context) {
	var req updateTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	updated, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /api/trackers/{id}.
func (h *TrackerHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteByTag handles DELETE /api/trackers?tag=<t>.
func (h *TrackerHandler) DeleteByTag(c *gin.Context) {
	tag := c.Query("tag")
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "tag is required"})
		return
	}
	count, err := h.svc.DeleteByTag(c.Request.Context(), tag)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

// writeError maps a classified error (internal/retrackerr) onto the HTTP
// status/body shape of spec.md §7.
func writeError(c *gin.Context, err error) {
	switch retrackerr.KindOf(err) {
	case retrackerr.NotFound:
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case retrackerr.Validation:
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
