package queue

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/solpay-gateway/internal/obs"
	"github.com/noah-isme/solpay-gateway/internal/order"
)

// TaskClient is the subset of *asynq.Client the enqueuer needs.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer publishes fulfillment tasks. Each order gets at most one task: a
// repeat enqueue for the same order is a no-op.
type Enqueuer struct {
	Client    TaskClient
	Queue     string
	MaxRetry  int
	Retention time.Duration
	Logger    zerolog.Logger
}

// EnqueueOrderPaid schedules receipt delivery for a freshly paid order.
func (e *Enqueuer) EnqueueOrderPaid(ctx context.Context, o order.Order) error {
	if e == nil || e.Client == nil {
		return errors.New("queue: task client not configured")
	}
	result := "error"
	defer func() { obs.IncCounter(obs.FulfillmentTaskTotal, "enqueue", result) }()

	task, err := NewOrderPaidTask(o)
	if err != nil {
		return err
	}
	info, err := e.Client.EnqueueContext(ctx, task, e.options(o)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		result = "duplicate"
		e.Logger.Debug().Str("order_id", o.ID.String()).Msg("fulfillment_task_exists")
		return nil
	}
	if err != nil {
		return err
	}
	result = "ok"
	e.Logger.Info().Str("order_id", o.ID.String()).Str("task_id", info.ID).Str("queue", info.Queue).Msg("fulfillment_task_enqueued")
	return nil
}

func (e *Enqueuer) options(o order.Order) []asynq.Option {
	queue := e.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 10
	}
	retention := e.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return []asynq.Option{
		asynq.TaskID(orderPaidTaskID(o.ID)),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(retention),
	}
}
