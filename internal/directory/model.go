// Package directory holds persisted account profiles: balances cached from
// the ledger, agent flags, locations and network preferences. The ledger is
// the source of truth for money; the balance here is a cache the reconciler
// keeps converged.
package directory

import (
	"time"

	"github.com/example/agentcash/internal/geo"
)

// GPSFix is the most recent device-reported position of an account.
type GPSFix struct {
	Point      geo.Point `json:"point"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Account is a registered participant. Agents additionally advertise
// availability, a handling limit and the mobile networks they settle on.
type Account struct {
	ID          string     `json:"id"`
	Phone       string     `json:"phone"`
	Balance     float64    `json:"balance"`
	IsAgent     bool       `json:"is_agent"`
	IsAvailable bool       `json:"is_available"`
	LastFix     *GPSFix    `json:"last_fix,omitempty"`
	Profile     *geo.Point `json:"profile_location,omitempty"`
	Rating      float64    `json:"rating"`
	ReviewCount int        `json:"review_count"`
	Networks    []string   `json:"networks,omitempty"`
	MaxHandle   float64    `json:"max_handle"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CanHandle reports whether the agent's declared handling limit covers
// amount. A zero limit means none was declared.
func (a *Account) CanHandle(amount float64) bool {
	return a.MaxHandle <= 0 || a.MaxHandle >= amount
}

// Position returns the coordinates proximity search should use: the last
// GPS fix when it carries valid coordinates, otherwise the profile
// location. The second return is false when neither is usable.
func (a *Account) Position() (geo.Point, bool) {
	if a.LastFix != nil && a.LastFix.Point.Valid() && !a.LastFix.Point.IsZero() {
		return a.LastFix.Point, true
	}
	if a.Profile != nil && a.Profile.Valid() && !a.Profile.IsZero() {
		return *a.Profile, true
	}
	return geo.Point{}, false
}
