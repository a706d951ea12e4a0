package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// NewMux registers one handler per lifecycle task. Delivery here is a
// structured log line; a real SMS or push provider slots into the same
// handlers.
func NewMux(logger *slog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRequestCreated, handleRequestCreated(logger))
	mux.HandleFunc(TaskRequestMatched, handleRequestMatched(logger))
	mux.HandleFunc(TaskRequestCompleted, handleRequestCompleted(logger))
	mux.HandleFunc(TaskRequestCancelled, handleRequestCancelled(logger))
	return mux
}

func handleRequestCreated(logger *slog.Logger) func(context.Context, *asynq.Task) error {
	return func(_ context.Context, t *asynq.Task) error {
		var p RequestCreatedPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", TaskRequestCreated, err)
		}
		logger.Info("delivered request-created notification",
			"request_id", p.RequestID, "requester_id", p.RequesterID, "amount", p.Amount)
		return nil
	}
}

func handleRequestMatched(logger *slog.Logger) func(context.Context, *asynq.Task) error {
	return func(_ context.Context, t *asynq.Task) error {
		var p RequestMatchedPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", TaskRequestMatched, err)
		}
		// The code itself stays out of the logs.
		logger.Info("delivered request-matched notification",
			"request_id", p.RequestID, "requester_id", p.RequesterID,
			"agent_id", p.AgentID, "code_issued", p.HandoffCode != "")
		return nil
	}
}

func handleRequestCompleted(logger *slog.Logger) func(context.Context, *asynq.Task) error {
	return func(_ context.Context, t *asynq.Task) error {
		var p RequestCompletedPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", TaskRequestCompleted, err)
		}
		logger.Info("delivered request-completed notification",
			"request_id", p.RequestID, "requester_id", p.RequesterID,
			"agent_id", p.AgentID, "amount", p.Amount)
		return nil
	}
}

func handleRequestCancelled(logger *slog.Logger) func(context.Context, *asynq.Task) error {
	return func(_ context.Context, t *asynq.Task) error {
		var p RequestCancelledPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", TaskRequestCancelled, err)
		}
		logger.Info("delivered request-cancelled notification",
			"request_id", p.RequestID, "cancelled_by", p.CancelledBy)
		return nil
	}
}
