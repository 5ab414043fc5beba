package taskqueue

import (
	"context"
	"encoding/json"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/logging"
	"github.com/retrack/retrack/smtptransport"
	"github.com/retrack/retrack/webhooktransport"
)

// EmailHandler builds the email task handler over an SMTP transport, per
// spec.md §4.6.
func EmailHandler(transport *smtptransport.Transport) Handler {
	return func(ctx context.Context, task *model.Task) error {
		var payload model.EmailPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return retrackerr.Wrap(retrackerr.Terminal, err, "decode email task payload")
		}
		return transport.Send(ctx, payload)
	}
}

// WebhookHandler builds the webhook task handler over an HTTP transport.
func WebhookHandler(transport *webhooktransport.Transport) Handler {
	return func(ctx context.Context, task *model.Task) error {
		var payload model.WebhookPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return retrackerr.Wrap(retrackerr.Terminal, err, "decode webhook task payload")
		}
		return transport.Send(ctx, payload)
	}
}

// ServerLogHandler builds the server_log/log task handler: a structured
// record written to the observability sink. Per spec.md §4.6 a payload that
// decodes always succeeds — there is no downstream dependency to fail
// against; an undecodable payload is a Terminal error.
func ServerLogHandler(log logging.Logger) Handler {
	return func(ctx context.Context, task *model.Task) error {
		var payload model.ServerLogPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return retrackerr.Wrap(retrackerr.Terminal, err, "decode server_log task payload")
		}
		entry := log.WithField("tracker_id", payload.TrackerID)
		if payload.DeadLetter {
			entry.Warnf("dead letter: original_type=%s message=%s", payload.OriginalType, payload.Message)
		} else {
			entry.Infof("%s", payload.Message)
		}
		return nil
	}
}
