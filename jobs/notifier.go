package jobs

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/procura-erp/procura/internal/procurement"
)

// Notifier dispatches posting events onto the queue. It satisfies the
// procurement notifier port and is always called after commit.
type Notifier struct {
	client *Client
}

// NewNotifier constructs a Notifier on top of a queue client.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// GRNPosted enqueues the receipt-posted notification task.
func (n *Notifier) GRNPosted(ctx context.Context, event procurement.GRNPostedEvent) error {
	task, err := NewGRNPostedTask(event)
	if err != nil {
		return err
	}
	_, err = n.client.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}
