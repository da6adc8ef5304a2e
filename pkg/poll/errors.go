package poll

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDataYet is returned by Item.Get when no fetch has ever succeeded
	// and the fetch it waited on failed, so there is nothing to serve.
	ErrNoDataYet = errors.New("no data yet")

	// ErrSchedulerRunning is returned when Start is called on a running scheduler.
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrSchedulerStopped is returned when Stop is called on a scheduler that is not running.
	ErrSchedulerStopped = errors.New("scheduler not running")
)

// FetchError records a failed fetch for an item.
type FetchError struct {
	Item string
	At   time.Time
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q failed: %v", e.Item, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// noDataYet marks a failed first fetch. The result matches both ErrNoDataYet
// and the underlying *FetchError.
func noDataYet(err error) error {
	return fmt.Errorf("%w: %w", ErrNoDataYet, err)
}
