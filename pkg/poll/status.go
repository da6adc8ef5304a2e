package poll

import (
	"time"

	"github.com/google/uuid"
)

// Status is a point-in-time view of an item's fetch health. It carries no
// value so that items of every type can be listed side by side.
type Status struct {
	Name        string    `json:"name"`
	Handle      uuid.UUID `json:"handle"`
	TTLSeconds  float64   `json:"ttl_seconds"`
	HasValue    bool      `json:"has_value"`
	Stale       bool      `json:"stale"`
	Fetching    bool      `json:"fetching"`
	LastFetch   time.Time `json:"last_fetch"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Fetches     uint64    `json:"fetches"`
	Failures    uint64    `json:"failures"`

	Err error `json:"-"`
}

// Failing reports whether the most recent fetch failed.
func (s Status) Failing() bool {
	return s.Err != nil
}
