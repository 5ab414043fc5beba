package model

import (
	"encoding/json"
	"time"
)

// TaskType is the tagged variant of a durable Task's payload.
type TaskType string

const (
	TaskEmail      TaskType = "email"
	TaskWebhook    TaskType = "webhook"
	TaskServerLog  TaskType = "server_log"
)

// EmailPayload is the task_type payload for TaskEmail.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WebhookPayload is the task_type payload for TaskWebhook.
type WebhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// ServerLogPayload is the task_type payload for TaskServerLog. It also
// carries the original payload when a task is converted to a dead letter,
// per spec.md §3's "serialized back onto itself with a sentinel tag."
type ServerLogPayload struct {
	Message     string          `json:"message"`
	TrackerID   string          `json:"tracker_id,omitempty"`
	DeadLetter  bool            `json:"dead_letter,omitempty"`
	OriginalType TaskType       `json:"original_type,omitempty"`
	Original    json.RawMessage `json:"original,omitempty"`
}

// Task is a durable deferred side-effect. See spec.md §3.
type Task struct {
	ID           string   `json:"id"`
	Type         TaskType `json:"task_type"`
	Payload      json.RawMessage `json:"payload"`
	Tags         []string `json:"tags"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	RetryAttempt int       `json:"retry_attempt"`
}

// TrackerTag is the conventional tag attached to every task so it can be
// associated (advisory only — see spec.md §9 open question) with its
// originating tracker.
func TrackerTag(trackerID string) string { return "tracker:" + trackerID }

// DeadLetterTag marks a task that has exhausted retries and was recycled
// into a server_log delivery, per spec.md §3.
const DeadLetterTag = "dead-letter"
