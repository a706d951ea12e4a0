package directory

import (
	"context"
	"fmt"

	"github.com/example/agentcash/internal/geo"
)

// NotFoundError reports a lookup for an account that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.ID)
}

// DuplicatePhoneError reports a create with a phone already registered.
type DuplicatePhoneError struct {
	Phone string
}

func (e *DuplicatePhoneError) Error() string {
	return fmt.Sprintf("phone %s is already registered", e.Phone)
}

// Update is a partial profile mutation. Nil fields are left unchanged; a
// non-nil empty Networks slice clears the preference list.
type Update struct {
	IsAvailable *bool
	IsAgent     *bool
	LastFix     *GPSFix
	Profile     *geo.Point
	Rating      *float64
	ReviewCount *int
	Networks    []string
	MaxHandle   *float64
}

// Store is the persistence contract for account profiles.
type Store interface {
	Create(ctx context.Context, account *Account) error
	Lookup(ctx context.Context, id string) (*Account, error)
	LookupByPhone(ctx context.Context, phone string) (*Account, error)
	ListAgents(ctx context.Context) ([]*Account, error)
	Update(ctx context.Context, id string, partial Update) (*Account, error)
	SetBalance(ctx context.Context, id string, balance float64) error
}
