package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedTransitions(t *testing.T) {
	allowed := AllowedTransitions()

	// PENDING can be matched, cancelled or expired
	assert.Contains(t, allowed[StatusPending], StatusMatched)
	assert.Contains(t, allowed[StatusPending], StatusCancelled)
	assert.Contains(t, allowed[StatusPending], StatusExpired)
	assert.Equal(t, 3, len(allowed[StatusPending]))

	// MATCHED can start the handoff, be cancelled or expire
	assert.Contains(t, allowed[StatusMatched], StatusInProgress)
	assert.Contains(t, allowed[StatusMatched], StatusCancelled)
	assert.Contains(t, allowed[StatusMatched], StatusExpired)
	assert.Equal(t, 3, len(allowed[StatusMatched]))

	// IN_PROGRESS can only complete
	assert.Contains(t, allowed[StatusInProgress], StatusCompleted)
	assert.Equal(t, 1, len(allowed[StatusInProgress]))

	// Terminal states go nowhere
	assert.Equal(t, 0, len(allowed[StatusCompleted]))
	assert.Equal(t, 0, len(allowed[StatusCancelled]))
	assert.Equal(t, 0, len(allowed[StatusExpired]))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"pending to matched", StatusPending, StatusMatched, true},
		{"pending straight to completed", StatusPending, StatusCompleted, false},
		{"matched to in progress", StatusMatched, StatusInProgress, true},
		{"in progress to completed", StatusInProgress, StatusCompleted, true},
		{"in progress cannot cancel", StatusInProgress, StatusCancelled, false},
		{"completed cannot reopen", StatusCompleted, StatusPending, false},
		{"expired cannot match", StatusExpired, StatusMatched, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusMatched.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusExpired.Terminal())
}

func TestActorValid(t *testing.T) {
	assert.True(t, ActorRequester.Valid())
	assert.True(t, ActorAgent.Valid())
	assert.False(t, ActorSystem.Valid())
	assert.False(t, Actor("auditor").Valid())
}
