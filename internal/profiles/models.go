package profiles

import (
	"errors"
	"time"

	"tuonane/internal/money"
)

// Profile is the slice of the user profile the call core depends on: identity,
// display name (callers without one are rejected), the per-second rate override,
// and whether the user accepts video calls at all.
type Profile struct {
	ID          string `json:"id" db:"id"`
	Username    string `json:"username,omitempty" db:"username"`
	DisplayName string `json:"full_name" db:"full_name"`

	// CustomPricePerSecond overrides the platform default when set (> 0).
	CustomPricePerSecond *money.Amount `json:"custom_price_per_second,omitempty" db:"custom_price_per_second"`

	VideoCallEnabled bool `json:"video_call_enabled" db:"video_call_enabled"`

	IsOnline   bool       `json:"is_online" db:"is_online"`
	LastActive *time.Time `json:"last_active,omitempty" db:"last_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Valid reports whether this profile may appear as a caller: it must exist (checked
// by the lookup) and carry a non-empty display name.
func (p Profile) Valid() bool { return p.ID != "" && p.DisplayName != "" }

var ErrNotFound = errors.New("profiles: not found")
