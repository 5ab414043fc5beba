// Package actions implements the Action Pipeline (spec.md §4.2 step 5):
// for each action configured on a tracker, run its optional formatter
// script and enqueue the appropriate durable Task, the generalization of
// the teacher's email.Task construction from campaign recipients to
// Retrack's four dispatchable action kinds.
package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/metrics"
	"github.com/retrack/retrack/sandbox"
)

// taskEnqueuer is the subset of store.Store this package depends on.
type taskEnqueuer interface {
	EnqueueTask(ctx context.Context, t *model.Task) error
}

// Pipeline is the Action Pipeline component.
type Pipeline struct {
	tasks   taskEnqueuer
	sandbox *sandbox.Sandbox
	metrics *metrics.Metrics
}

// New builds an Action Pipeline over the given task store and script sandbox.
func New(tasks taskEnqueuer, sb *sandbox.Sandbox) *Pipeline {
	return &Pipeline{tasks: tasks, sandbox: sb}
}

// SetMetrics attaches a metrics sink the pipeline reports enqueued-task
// counts to. Optional — nil disables reporting.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// formatterOutput is what an action's formatter script may return: a
// rendered message body, or a partial request override for webhook actions.
type formatterOutput struct {
	Body    string            `json:"body,omitempty"`
	Subject string            `json:"subject,omitempty"`
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Dispatch runs every configured action for a tracker's newly appended
// revision, enqueuing one Task per action in declaration order.
func (p *Pipeline) Dispatch(ctx context.Context, tracker *model.Tracker, previousContent, newContent json.RawMessage, diff *model.Diff) error {
	for _, action := range tracker.Actions {
		out, err := p.runFormatter(ctx, action, tracker, previousContent, newContent, diff)
		if err != nil {
			return err
		}
		task, err := buildTask(tracker.ID, action, out)
		if err != nil {
			return err
		}
		if err := p.tasks.EnqueueTask(ctx, task); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.TasksEnqueued.WithLabelValues(string(task.Type)).Inc()
		}
	}
	return nil
}

func (p *Pipeline) runFormatter(ctx context.Context, action model.Action, tracker *model.Tracker, previousContent, newContent json.RawMessage, diff *model.Diff) (formatterOutput, error) {
	if action.Formatter == "" {
		return defaultFormatterOutput(action), nil
	}

	scriptCtx := map[string]any{
		"action":          action,
		"previousContent": rawOrNil(previousContent),
		"newContent":      rawOrNil(newContent),
		"diff":            diff,
		"tracker": map[string]any{
			"id":   tracker.ID,
			"name": tracker.Name,
			"tags": tracker.Tags,
		},
	}
	raw, err := p.sandbox.Run(ctx, "formatter", action.Formatter, scriptCtx)
	if err != nil {
		return formatterOutput{}, err
	}

	var out formatterOutput
	if err := json.Unmarshal(raw, &out); err == nil && (out.Body != "" || out.URL != "" || out.Subject != "") {
		return out, nil
	}
	// formatter returned a bare string (or something not shaped like
	// formatterOutput) — treat the raw value as the message body.
	var body string
	if err := json.Unmarshal(raw, &body); err != nil {
		body = string(raw)
	}
	def := defaultFormatterOutput(action)
	def.Body = body
	return def, nil
}

func defaultFormatterOutput(action model.Action) formatterOutput {
	return formatterOutput{
		Subject: action.Subject,
		URL:     action.URL,
		Method:  action.Method,
		Headers: action.Headers,
	}
}

func buildTask(trackerID string, action model.Action, out formatterOutput) (*model.Task, error) {
	now := time.Now()
	tags := []string{model.TrackerTag(trackerID)}

	switch action.Kind {
	case model.ActionEmail:
		payload, err := json.Marshal(model.EmailPayload{
			To:      action.To,
			Subject: firstNonEmpty(out.Subject, action.Subject),
			Body:    out.Body,
		})
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Terminal, err, "marshal email task payload")
		}
		return &model.Task{ID: ids.New(), Type: model.TaskEmail, Payload: payload, Tags: tags, ScheduledAt: now}, nil

	case model.ActionWebhook:
		method := firstNonEmpty(out.Method, action.Method)
		if method == "" {
			method = "POST"
		}
		headers := out.Headers
		if headers == nil {
			headers = action.Headers
		}
		payload, err := json.Marshal(model.WebhookPayload{
			URL:     firstNonEmpty(out.URL, action.URL),
			Method:  method,
			Headers: headers,
			Body:    out.Body,
		})
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Terminal, err, "marshal webhook task payload")
		}
		return &model.Task{ID: ids.New(), Type: model.TaskWebhook, Payload: payload, Tags: tags, ScheduledAt: now}, nil

	case model.ActionServerLog, model.ActionLog:
		payload, err := json.Marshal(model.ServerLogPayload{
			Message:   out.Body,
			TrackerID: trackerID,
		})
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Terminal, err, "marshal log task payload")
		}
		return &model.Task{ID: ids.New(), Type: model.TaskServerLog, Payload: payload, Tags: tags, ScheduledAt: now}, nil

	default:
		return nil, retrackerr.New(retrackerr.Validation, "unknown action kind: "+string(action.Kind))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
