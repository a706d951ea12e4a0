package notify

import (
	"context"

	"github.com/example/agentcash/internal/request"
)

// Noop discards every notification. Binaries that drive the lifecycle
// without a task queue attached (the sweeper) use it.
type Noop struct{}

func (Noop) RequestCreated(context.Context, *request.Request) error { return nil }

func (Noop) RequestMatched(context.Context, *request.Request, string) error { return nil }

func (Noop) RequestCompleted(context.Context, *request.Request) error { return nil }

func (Noop) RequestCancelled(context.Context, *request.Request, request.Actor) error { return nil }
