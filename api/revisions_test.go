package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/retrack/retrack/internal/model"
)

func setupRevisionRouter(h *RevisionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/api")
	group.GET("/trackers/:id/revisions", h.List)
	group.POST("/trackers/:id/revisions", h.ForceTick)
	group.DELETE("/trackers/:id/revisions", h.Clear)
	return router
}

type mockRevisionService struct {
	listFunc       func(ctx context.Context, trackerID string, calculateDiff bool) ([]*model.Revision, []*model.Diff, error)
	forceTickFunc  func(ctx context.Context, trackerID string) error
	clearFunc      func(ctx context.Context, trackerID string) error
}

func (m *mockRevisionService) ListRevisions(ctx context.Context, trackerID string, calculateDiff bool) ([]*model.Revision, []*model.Diff, error) {
	return m.listFunc(ctx, trackerID, calculateDiff)
}
func (m *mockRevisionService) ForceTick(ctx context.Context, trackerID string) error {
	return m.forceTickFunc(ctx, trackerID)
}
func (m *mockRevisionService) ClearRevisions(ctx context.Context, trackerID string) error {
	return m.clearFunc(ctx, trackerID)
}

func TestRevisionHandler_List_WithDiff(t *testing.T) {
	var capturedDiff bool
	svc := &mockRevisionService{
		listFunc: func(_ context.Context, trackerID string, calculateDiff bool) ([]*model.Revision, []*model.Diff, error) {
			capturedDiff = calculateDiff
			revs := []*model.Revision{{ID: "rev_1", TrackerID: trackerID, CreatedAt: time.Now(), Data: json.RawMessage(`{"a":1}`)}}
			diffs := []*model.Diff{nil}
			return revs, diffs, nil
		},
	}
	router := setupRevisionRouter(NewRevisionHandler(svc))

	req := httptest.NewRequest(http.MethodGet, "/api/trackers/trk_1/revisions?calculateDiff=true", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !capturedDiff {
		t.Error("calculateDiff was not propagated as true")
	}
	var out []revisionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 1 || out[0].ID != "rev_1" {
		t.Errorf("unexpected response: %+v", out)
	}
}

func TestRevisionHandler_ForceTick_Accepted(t *testing.T) {
	var capturedID string
	svc := &mockRevisionService{
		forceTickFunc: func(_ context.Context, trackerID string) error {
			capturedID = trackerID
			return nil
		},
	}
	router := setupRevisionRouter(NewRevisionHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/api/trackers/trk_1/revisions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if capturedID != "trk_1" {
		t.Errorf("trackerID = %q, want trk_1", capturedID)
	}
}

func TestRevisionHandler_Clear_NoContent(t *testing.T) {
	svc := &mockRevisionService{
		clearFunc: func(_ context.Context, _ string) error { return nil },
	}
	router := setupRevisionRouter(NewRevisionHandler(svc))

	req := httptest.NewRequest(http.MethodDelete, "/api/trackers/trk_1/revisions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
