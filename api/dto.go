package api

import (
	"encoding/json"

	"github.com/retrack/retrack/internal/model"
)

// createTrackerRequest is the POST /api/trackers body, per spec.md §6.
type createTrackerRequest struct {
	Name    string              `json:"name" binding:"required"`
	Target  model.Target        `json:"target" binding:"required"`
	Actions []model.Action      `json:"actions"`
	Config  *model.TrackerConfig `json:"config"`
	Tags    []string            `json:"tags"`
}

// updateTrackerRequest is the PUT /api/trackers/{id} body: a merge-update,
// every field optional.
type updateTrackerRequest struct {
	Name    *string              `json:"name"`
	Enabled *bool                `json:"enabled"`
	Target  *model.Target        `json:"target"`
	Actions *[]model.Action      `json:"actions"`
	Config  *model.TrackerConfig `json:"config"`
	Tags    *[]string            `json:"tags"`
}

// revisionResponse is one entry in the GET .../revisions list response,
// optionally carrying its diff against the immediately preceding revision.
type revisionResponse struct {
	ID        string          `json:"id"`
	TrackerID string          `json:"tracker_id"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
	Diff      *model.Diff     `json:"diff,omitempty"`
}

func toRevisionResponse(rev *model.Revision, diff *model.Diff) revisionResponse {
	return revisionResponse{
		ID:        rev.ID,
		TrackerID: rev.TrackerID,
		CreatedAt: rev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Data:      rev.Data,
		Diff:      diff,
	}
}
