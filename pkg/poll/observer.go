package poll

import (
	"time"

	"github.com/google/uuid"
)

// FetchEvent describes one completed fetch.
type FetchEvent struct {
	Item     string
	Handle   uuid.UUID
	Started  time.Time
	Finished time.Time
	// Err is nil when the fetch succeeded.
	Err error
	// Discarded is set when the item was force-cleared while the fetch was in
	// flight, so its result was handed to waiters but not stored.
	Discarded bool
}

// Duration is how long the fetch took.
func (e FetchEvent) Duration() time.Duration {
	return e.Finished.Sub(e.Started)
}

// Observer is told about every completed fetch. OnFetch runs on the fetching
// goroutine before waiters are released, so it must not block.
type Observer interface {
	OnFetch(FetchEvent)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(FetchEvent)

func (f ObserverFunc) OnFetch(e FetchEvent) { f(e) }

type multiObserver []Observer

func (m multiObserver) OnFetch(e FetchEvent) {
	for _, o := range m {
		o.OnFetch(e)
	}
}

// Observers fans a fetch event out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
