package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/retrack/retrack/internal/model"
)

// RevisionService is the subset of revision operations the HTTP layer
// depends on, per spec.md §6's revisions routes.
type RevisionService interface {
	ListRevisions(ctx context.Context, trackerID string, calculateDiff bool) ([]*model.Revision, []*model.Diff, error)
	ForceTick(ctx context.Context, trackerID string) error
	ClearRevisions(ctx context.Context, trackerID string) error
}

// RevisionHandler implements the revision listing/force-tick/clear routes.
type RevisionHandler struct {
	svc RevisionService
}

// NewRevisionHandler builds a RevisionHandler over svc.
func NewRevisionHandler(svc RevisionService) *RevisionHandler {
	return &RevisionHandler{svc: svc}
}

// List handles GET /api/trackers/{id}/revisions[?calculateDiff=true].
func (h *RevisionHandler) List(c *gin.Context) {
	calculateDiff, _ := strconv.ParseBool(c.Query("calculateDiff"))

	revisions, diffs, err := h.svc.ListRevisions(c.Request.Context(), c.Param("id"), calculateDiff)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]revisionResponse, len(revisions))
	for i, rev := range revisions {
		var diff *model.Diff
		if diffs != nil {
			diff = diffs[i]
		}
		out[i] = toRevisionResponse(rev, diff)
	}
	c.JSON(http.StatusOK, out)
}

// ForceTick handles POST /api/trackers/{id}/revisions: forces an immediate
// tick with the same semantics as a scheduled one, per spec.md §6.
func (h *RevisionHandler) ForceTick(c *gin.Context) {
	if err := h.svc.ForceTick(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Clear handles DELETE /api/trackers/{id}/revisions.
func (h *RevisionHandler) Clear(c *gin.Context) {
	if err := h.svc.ClearRevisions(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
