// Package matching ranks cash agents for a withdrawal request. It is
// read-only: callers poll it freely and act on the result through the
// request lifecycle, which does its own compare-and-swap.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/geo"
	"github.com/example/agentcash/internal/request"
)

// AgentSource enumerates agent profiles. The directory store satisfies it.
type AgentSource interface {
	ListAgents(ctx context.Context) ([]*directory.Account, error)
}

// CompletedCounter reports how many settled withdrawals each agent has
// serviced. The ledger's completed agent_receive count satisfies it.
type CompletedCounter interface {
	CompletedCounts(ctx context.Context, accountIDs []string) (map[string]int, error)
}

// RequestSource resolves a withdrawal request when a search is scoped to
// one.
type RequestSource interface {
	Get(ctx context.Context, id string) (*request.Request, error)
}

// Candidate is one ranked agent.
type Candidate struct {
	Agent          *directory.Account `json:"agent"`
	DistanceKm     float64            `json:"distance_km"`
	ReviewCount    int                `json:"review_count"`
	CompletedCount int                `json:"completed_count"`
}

// Engine enumerates and ranks agents around an origin.
type Engine struct {
	agents   AgentSource
	ledger   CompletedCounter
	requests RequestSource
	radiusKm float64
}

// NewEngine builds an Engine. radiusKm is the default search radius used
// when a caller passes zero.
func NewEngine(agents AgentSource, ledger CompletedCounter, requests RequestSource, radiusKm float64) *Engine {
	return &Engine{
		agents:   agents,
		ledger:   ledger,
		requests: requests,
		radiusKm: radiusKm,
	}
}

// Nearby returns agents within radiusKm of origin, best match first. The
// order is total and deterministic: available agents before unavailable,
// then nearest, then highest rated, then most withdrawals serviced, then
// id.
//
// A non-empty requestID scopes the search to that request: its coordinates
// and amount replace origin, the requester is excluded and agents whose
// handling limit is below the amount are discarded. Zero results is a
// normal outcome.
func (e *Engine) Nearby(ctx context.Context, origin geo.Point, radiusKm float64, requestID string) ([]*Candidate, error) {
	if radiusKm <= 0 {
		radiusKm = e.radiusKm
	}

	var amount float64
	var exclude string
	if requestID != "" {
		req, err := e.requests.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		origin = req.Location
		amount = req.Amount
		exclude = req.RequesterID
	}
	if !origin.Valid() {
		return nil, errors.New("invalid origin coordinates")
	}

	agents, err := e.agents.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var candidates []*Candidate
	for _, agent := range agents {
		if agent.ID == exclude {
			continue
		}
		position, ok := agent.Position()
		if !ok {
			continue
		}
		distance := geo.Distance(origin, position)
		if distance > radiusKm {
			continue
		}
		if amount > 0 && !agent.CanHandle(amount) {
			continue
		}
		candidates = append(candidates, &Candidate{
			Agent:       agent,
			DistanceKm:  distance,
			ReviewCount: agent.ReviewCount,
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Agent.ID
	}
	counts, err := e.ledger.CompletedCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed withdrawals: %w", err)
	}
	for _, c := range candidates {
		c.CompletedCount = counts[c.Agent.ID]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Agent.IsAvailable != b.Agent.IsAvailable {
			return a.Agent.IsAvailable
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.Agent.Rating != b.Agent.Rating {
			return a.Agent.Rating > b.Agent.Rating
		}
		if a.CompletedCount != b.CompletedCount {
			return a.CompletedCount > b.CompletedCount
		}
		return a.Agent.ID < b.Agent.ID
	})
	return candidates, nil
}
