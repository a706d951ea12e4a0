package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/agentcash/internal/directory"
	"github.com/example/agentcash/internal/geo"
	"github.com/example/agentcash/internal/request"
)

// Accra; one degree of latitude is ~111.19 km, so lat offsets below give
// known distances.
var accra = geo.Point{Lat: 5.6037, Lng: -0.1870}

func kmNorth(origin geo.Point, km float64) geo.Point {
	return geo.Point{Lat: origin.Lat + km/111.19, Lng: origin.Lng}
}

type fakeAgents struct {
	agents []*directory.Account
}

func (f *fakeAgents) ListAgents(context.Context) ([]*directory.Account, error) {
	return f.agents, nil
}

type fakeCounts struct {
	counts map[string]int
	calls  int
}

func (f *fakeCounts) CompletedCounts(_ context.Context, ids []string) (map[string]int, error) {
	f.calls++
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		out[id] = f.counts[id]
	}
	return out, nil
}

type fakeRequests struct {
	requests map[string]*request.Request
}

func (f *fakeRequests) Get(_ context.Context, id string) (*request.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, &request.NotFoundError{Kind: "request", ID: id}
	}
	return req, nil
}

type engineEnv struct {
	agents   *fakeAgents
	counts   *fakeCounts
	requests *fakeRequests
	engine   *Engine
}

func newEngineEnv(agents ...*directory.Account) *engineEnv {
	env := &engineEnv{
		agents:   &fakeAgents{agents: agents},
		counts:   &fakeCounts{counts: make(map[string]int)},
		requests: &fakeRequests{requests: make(map[string]*request.Request)},
	}
	env.engine = NewEngine(env.agents, env.counts, env.requests, 20)
	return env
}

func agentAt(id string, position geo.Point) *directory.Account {
	return &directory.Account{
		ID:          id,
		IsAgent:     true,
		IsAvailable: true,
		Profile:     &position,
		Rating:      4.0,
		ReviewCount: 10,
	}
}

func candidateIDs(candidates []*Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Agent.ID
	}
	return ids
}

func TestNearbyOrdersByDistance(t *testing.T) {
	env := newEngineEnv(
		agentAt("far", kmNorth(accra, 8)),
		agentAt("near", kmNorth(accra, 2)),
		agentAt("mid", kmNorth(accra, 5)),
	)

	candidates, err := env.engine.Nearby(context.Background(), accra, 0, "")
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, []string{"near", "mid", "far"}, candidateIDs(candidates))
	assert.InDelta(t, 2, candidates[0].DistanceKm, 0.1)
	assert.InDelta(t, 5, candidates[1].DistanceKm, 0.1)
	assert.InDelta(t, 8, candidates[2].DistanceKm, 0.1)
}

func TestNearbyRankingIsTotal(t *testing.T) {
	fiveKm := kmNorth(accra, 5)

	golf := agentAt("golf", kmNorth(accra, 2))
	golf.IsAvailable = false
	alpha := agentAt("alpha", kmNorth(accra, 8))
	bravo := agentAt("bravo", fiveKm)
	charlie := agentAt("charlie", fiveKm)
	charlie.Rating = 4.8
	delta := agentAt("delta", fiveKm)
	delta.Rating = 4.8
	echo := agentAt("echo", fiveKm)
	foxtrot := agentAt("foxtrot", fiveKm)

	env := newEngineEnv(golf, alpha, bravo, charlie, delta, echo, foxtrot)
	env.counts.counts = map[string]int{
		"alpha":   5,
		"bravo":   7,
		"charlie": 3,
		"delta":   9,
	}

	candidates, err := env.engine.Nearby(context.Background(), accra, 0, "")
	require.NoError(t, err)

	// Available before unavailable, then distance, rating, completed
	// count, id.
	assert.Equal(t,
		[]string{"delta", "charlie", "bravo", "echo", "foxtrot", "alpha", "golf"},
		candidateIDs(candidates))

	assert.Equal(t, 9, candidates[0].CompletedCount)
	assert.Equal(t, 10, candidates[0].ReviewCount)
}

func TestNearbyRadiusFilter(t *testing.T) {
	env := newEngineEnv(
		agentAt("close", kmNorth(accra, 8)),
		agentAt("distant", kmNorth(accra, 25)),
	)
	ctx := context.Background()

	// Default radius (20 km) keeps only the close agent.
	candidates, err := env.engine.Nearby(ctx, accra, 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"close"}, candidateIDs(candidates))

	// A wider radius admits both, a tighter one neither.
	candidates, err = env.engine.Nearby(ctx, accra, 30, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"close", "distant"}, candidateIDs(candidates))

	candidates, err = env.engine.Nearby(ctx, accra, 5, "")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestNearbyPositionResolution(t *testing.T) {
	// Stale profile far outside the radius, fresh fix nearby: the fix wins.
	roaming := agentAt("roaming", kmNorth(accra, 25))
	roaming.LastFix = &directory.GPSFix{
		Point:      kmNorth(accra, 2),
		AccuracyM:  15,
		RecordedAt: time.Now(),
	}

	// A zero-valued fix is unusable; fall back to the profile.
	parked := agentAt("parked", kmNorth(accra, 5))
	parked.LastFix = &directory.GPSFix{RecordedAt: time.Now()}

	// Neither source usable: skipped entirely.
	ghost := &directory.Account{ID: "ghost", IsAgent: true, IsAvailable: true}

	env := newEngineEnv(roaming, parked, ghost)
	candidates, err := env.engine.Nearby(context.Background(), accra, 0, "")
	require.NoError(t, err)

	require.Equal(t, []string{"roaming", "parked"}, candidateIDs(candidates))
	assert.InDelta(t, 2, candidates[0].DistanceKm, 0.1)
	assert.InDelta(t, 5, candidates[1].DistanceKm, 0.1)
}

func TestNearbyScopedToRequest(t *testing.T) {
	env := newEngineEnv(
		agentAt("bob", kmNorth(accra, 2)), // the requester moonlights as an agent
		agentAt("small-float", kmNorth(accra, 2)),
		agentAt("big-float", kmNorth(accra, 5)),
		agentAt("uncapped", kmNorth(accra, 8)),
	)
	env.agents.agents[1].MaxHandle = 100
	env.agents.agents[2].MaxHandle = 1000
	env.requests.requests["req-1"] = &request.Request{
		ID:          "req-1",
		RequesterID: "bob",
		Amount:      500,
		Location:    accra,
		Status:      request.StatusPending,
	}

	// The caller's origin is ignored when a request is supplied.
	elsewhere := geo.Point{Lat: 6.7, Lng: -1.6}
	candidates, err := env.engine.Nearby(context.Background(), elsewhere, 0, "req-1")
	require.NoError(t, err)

	// bob is excluded as the requester, small-float cannot cover 500, and
	// a zero max-handle means no declared cap.
	assert.Equal(t, []string{"big-float", "uncapped"}, candidateIDs(candidates))
}

func TestNearbyUnknownRequest(t *testing.T) {
	env := newEngineEnv(agentAt("ama", kmNorth(accra, 2)))

	_, err := env.engine.Nearby(context.Background(), accra, 0, "req-missing")
	var notFound *request.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestNearbyNoAgents(t *testing.T) {
	env := newEngineEnv()

	candidates, err := env.engine.Nearby(context.Background(), accra, 0, "")
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Equal(t, 0, env.counts.calls, "no ledger round trip for an empty candidate set")
}

func TestNearbyInvalidOrigin(t *testing.T) {
	env := newEngineEnv(agentAt("ama", kmNorth(accra, 2)))

	_, err := env.engine.Nearby(context.Background(), geo.Point{Lat: 99, Lng: 0}, 0, "")
	assert.Error(t, err)
}
