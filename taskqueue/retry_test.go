package taskqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRetryDelay_Constant(t *testing.T) {
	strategy := model.RetryStrategy{Kind: model.RetryConstant, IntervalMs: 5000, MaxAttempts: 5}
	assert.Equal(t, 5*time.Second, nextRetryDelay(strategy, 1))
	assert.Equal(t, 5*time.Second, nextRetryDelay(strategy, 3))
}

func TestNextRetryDelay_ExponentialRespectsCap(t *testing.T) {
	strategy := model.RetryStrategy{
		Kind:          model.RetryExponential,
		InitialMs:     1000,
		Multiplier:    2,
		MaxIntervalMs: 4000,
		MaxAttempts:   10,
	}
	delay := nextRetryDelay(strategy, 8)
	assert.LessOrEqual(t, delay, 5*time.Second) // backoff/v4 jitters ~±50%; nextRetryDelay clamps the result to the cap
}

func TestDeadLetterTask_CarriesOriginalPayload(t *testing.T) {
	original := &model.Task{
		ID:      "t1",
		Type:    model.TaskEmail,
		Payload: []byte(`{"to":"a@example.com"}`),
		Tags:    []string{"tracker:abc"},
	}
	dead := deadLetterTask(original)
	assert.Equal(t, model.TaskServerLog, dead.Type)
	assert.Contains(t, dead.Tags, model.DeadLetterTag)
	assert.Contains(t, dead.Tags, "tracker:abc")

	var payload model.ServerLogPayload
	require.NoError(t, json.Unmarshal(dead.Payload, &payload))
	assert.True(t, payload.DeadLetter)
	assert.Equal(t, model.TaskEmail, payload.OriginalType)
}
