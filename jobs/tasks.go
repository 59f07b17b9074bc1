package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/procura-erp/procura/internal/jobs"
	"github.com/procura-erp/procura/internal/procurement"
	"github.com/procura-erp/procura/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeGRNPosted notifies purchasing after a receipt posts.
	TaskTypeGRNPosted = "procurement:grn_posted"
	// TaskTypeSendEmail is the task type for transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeIdempotencyCleanup prunes stale idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewSendEmailHandler processes TaskTypeSendEmail tasks.
func NewSendEmailHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		// Placeholder: integrate with SMTP/Mailpit in phase 2.
		logger.Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
}

// NewGRNPostedTask builds the post-commit receipt notification task.
func NewGRNPostedTask(event procurement.GRNPostedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGRNPosted, data, asynq.Queue(QueueDefault)), nil
}

// NewGRNPostedHandler logs posted receipts and fans out an email to the
// purchasing inbox when one is configured.
func NewGRNPostedHandler(logger *slog.Logger, client *Client, notifyEmail string) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event procurement.GRNPostedEvent
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return asynq.SkipRetry
		}
		tracker := defaultJobMetrics.Track(TaskTypeGRNPosted)
		logger.Info("goods receipt posted",
			slog.String("grn", event.Number),
			slog.String("po", event.PONumber),
			slog.String("po_status", event.POStatus),
			slog.Int("lines", event.LineCount),
			slog.Float64("total_qty", event.TotalQty),
		)
		if notifyEmail == "" || client == nil {
			return tracker.End(nil)
		}
		_, err := client.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      notifyEmail,
			Subject: "Goods receipt " + event.Number + " posted",
			Body:    "Receipt " + event.Number + " posted against " + event.PONumber + " (now " + event.POStatus + ").",
		})
		return tracker.End(err)
	}
}

// NewIdempotencyCleanupTask builds the scheduled key-pruning task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}

// NewIdempotencyCleanupHandler prunes keys older than retention.
func NewIdempotencyCleanupHandler(logger *slog.Logger, store *shared.IdempotencyStore, retention time.Duration) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := defaultJobMetrics.Track(TaskTypeIdempotencyCleanup)
		pruned, err := store.Cleanup(ctx, retention)
		if err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("idempotency cleanup", slog.Int64("pruned", pruned))
		return tracker.End(nil)
	}
}
