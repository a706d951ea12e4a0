package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/example/agentcash/internal/request"
)

// TaskEnqueuer is the slice of *asynq.Client the notifier needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer pushes lifecycle events onto the task queue. It satisfies
// request.Notifier.
type Enqueuer struct {
	client TaskEnqueuer
}

func NewEnqueuer(client TaskEnqueuer) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) RequestCreated(ctx context.Context, req *request.Request) error {
	return e.enqueue(ctx, TaskRequestCreated, RequestCreatedPayload{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Amount:      req.Amount,
		SentAt:      time.Now(),
	})
}

func (e *Enqueuer) RequestMatched(ctx context.Context, req *request.Request, code string) error {
	return e.enqueue(ctx, TaskRequestMatched, RequestMatchedPayload{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		AgentID:     agentOf(req),
		Amount:      req.Amount,
		HandoffCode: code,
		SentAt:      time.Now(),
	})
}

func (e *Enqueuer) RequestCompleted(ctx context.Context, req *request.Request) error {
	return e.enqueue(ctx, TaskRequestCompleted, RequestCompletedPayload{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		AgentID:     agentOf(req),
		Amount:      req.Amount,
		SentAt:      time.Now(),
	})
}

func (e *Enqueuer) RequestCancelled(ctx context.Context, req *request.Request, actor request.Actor) error {
	return e.enqueue(ctx, TaskRequestCancelled, RequestCancelledPayload{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		AgentID:     agentOf(req),
		CancelledBy: string(actor),
		SentAt:      time.Now(),
	})
}

func (e *Enqueuer) enqueue(ctx context.Context, taskType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", taskType, err)
	}
	task := asynq.NewTask(taskType, raw)
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(QueueName), asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return nil
}

func agentOf(req *request.Request) string {
	if req.AgentID != nil {
		return *req.AgentID
	}
	return ""
}
