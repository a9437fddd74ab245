package queue_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/solpay-gateway/internal/order"
	"github.com/noah-isme/solpay-gateway/internal/order/ordertest"
	"github.com/noah-isme/solpay-gateway/internal/queue"
)

// dedupClient mimics asynq's task ID uniqueness within the retention window.
type dedupClient struct {
	mu    sync.Mutex
	tasks map[string]*asynq.Task
	opts  map[string][]asynq.Option
}

func newDedupClient() *dedupClient {
	return &dedupClient{tasks: make(map[string]*asynq.Task), opts: make(map[string][]asynq.Option)}
}

func (c *dedupClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	var id, q string
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			id = o.Value().(string)
		case asynq.QueueOpt:
			q = o.Value().(string)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tasks[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	c.tasks[id] = task
	c.opts[id] = opts
	return &asynq.TaskInfo{ID: id, Queue: q, Type: task.Type(), Payload: task.Payload()}, nil
}

func (c *dedupClient) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func paidOrder(t *testing.T) (order.Order, *order.SQLiteStore) {
	t.Helper()
	store := ordertest.NewStore(t)
	o := ordertest.AwaitingPayment(t, store, "10.00", "R1")
	o, changed, err := store.MarkPaid(context.Background(), o.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, changed)
	return o, store
}

func TestEnqueueOrderPaidOncePerOrder(t *testing.T) {
	o, _ := paidOrder(t)
	client := newDedupClient()
	e := &queue.Enqueuer{Client: client}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.EnqueueOrderPaid(context.Background(), o)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, client.len())

	for id, task := range client.tasks {
		require.Contains(t, id, o.ID.String())
		require.Equal(t, queue.TypeOrderPaid, task.Type())

		var p queue.OrderPaidPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &p))
		require.Equal(t, o.ID, p.OrderID)
		require.Equal(t, "10.00", p.Total)
		require.Equal(t, "R1", p.Reference)
		require.Equal(t, "buyer@example.com", p.CustomerEmail)
		require.False(t, p.PaidAt.IsZero())

		var q string
		for _, opt := range client.opts[id] {
			if opt.Type() == asynq.QueueOpt {
				q = opt.Value().(string)
			}
		}
		require.Equal(t, queue.DefaultQueue, q)
	}
}

func TestEnqueueWithoutClient(t *testing.T) {
	var e *queue.Enqueuer
	require.Error(t, e.EnqueueOrderPaid(context.Background(), order.Order{}))
}
