package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/retrack/retrack/internal/model"
	"github.com/stretchr/testify/require"
)

func TestEnqueueTask(t *testing.T) {
	s, mock := newMockStore(t)

	task := &model.Task{
		ID:          "task-1",
		Type:        model.TaskEmail,
		Payload:     json.RawMessage(`{"to":"a@b.com"}`),
		ScheduledAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, string(task.Type), task.Payload, task.ScheduledAt, task.RetryAttempt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.EnqueueTask(context.Background(), task)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDueTasks_ReturnsClaimedRows(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "task_type", "payload", "scheduled_at", "retry_attempt", "tags"}).
		AddRow("task-1", "email", []byte(`{"to":"a@b.com"}`), time.Now(), 0, "{}")

	mock.ExpectQuery("UPDATE tasks SET claimed_by").
		WillReturnRows(rows)

	claimed, err := s.ClaimDueTasks(context.Background(), "worker-1", 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, model.TaskEmail, claimed[0].Type)
}

func TestCompleteTask(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM tasks WHERE id").
		WithArgs("task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CompleteTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
