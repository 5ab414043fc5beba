package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: db}, mock
}

func TestSaveTracker_DuplicateNameIsValidationError(t *testing.T) {
	s, mock := newMockStore(t)

	tr := &model.Tracker{
		ID:        "tracker-1",
		Name:      "dup",
		Target:    model.Target{Kind: model.TargetPage},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO trackers").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.SaveTracker(context.Background(), tr)
	require.Error(t, err)
	require.Equal(t, retrackerr.Validation, retrackerr.KindOf(err))
}

func TestGetTracker_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, enabled, target, actions, config, tags, job_needed, job_id, created_at, updated_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetTracker(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, retrackerr.NotFound, retrackerr.KindOf(err))
}
