package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// gateKey is the only key ever used on an item's singleflight group.
const gateKey = "fetch"

// FetchFunc performs the remote call for one item. The context passed in is
// never cancelled by the engine; timeouts belong to the backend client.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Item caches the result of a single FetchFunc for a TTL.
//
// Item is safe for concurrent use. The value, timestamps and last error are
// read and written together under one lock, so readers never see a mix of two
// fetches.
type Item[T any] struct {
	name   string
	handle uuid.UUID
	ttl    time.Duration
	fetch  FetchFunc[T]

	clock    clockwork.Clock
	logger   zerolog.Logger
	observer Observer
	registry *Registry

	gate     singleflight.Group
	fetching atomic.Bool

	mu          sync.RWMutex
	value       T
	hasValue    bool
	lastFetch   time.Time
	lastSuccess time.Time
	lastErr     error
	fetches     uint64
	failures    uint64
	// generation is bumped by ForceClear. A fetch that started under an older
	// generation does not store its result.
	generation uint64
}

// New creates an item and registers it with the configured registry.
// The item stays registered until Close is called.
func New[T any](name string, ttl time.Duration, fetch FetchFunc[T], opts ...Option) (*Item[T], error) {
	if name == "" {
		return nil, errors.New("item name cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("item %q: ttl must be greater than 0, got %s", name, ttl)
	}
	if fetch == nil {
		return nil, fmt.Errorf("item %q: fetch function cannot be nil", name)
	}
	cfg, err := getOpts(opts)
	if err != nil {
		return nil, fmt.Errorf("item %q: %w", name, err)
	}

	i := &Item[T]{
		name:     name,
		handle:   uuid.New(),
		ttl:      ttl,
		fetch:    fetch,
		clock:    cfg.clock,
		observer: cfg.observer,
		registry: cfg.registry,
	}
	i.logger = cfg.logger.With().Str("component", "PollItem").Str("item", name).Logger()

	if i.registry != nil {
		i.registry.Register(i)
	}
	return i, nil
}

// Name returns the item's name.
func (i *Item[T]) Name() string { return i.name }

// Handle returns the stable handle the item is registered under.
func (i *Item[T]) Handle() uuid.UUID { return i.handle }

// TTL returns the staleness window.
func (i *Item[T]) TTL() time.Duration { return i.ttl }

// Get returns the cached value.
//
// A fresh value is returned without fetching. A stale value is returned
// immediately while a refresh runs in the background. With no value at all,
// Get waits for the in-flight fetch (starting one if needed). If that fetch
// fails the error matches ErrNoDataYet and wraps a *FetchError. If ctx ends
// first, ctx.Err() is returned and the fetch carries on.
func (i *Item[T]) Get(ctx context.Context) (T, error) {
	i.mu.RLock()
	value, hasValue := i.value, i.hasValue
	stale := i.staleLocked(i.clock.Now())
	i.mu.RUnlock()

	if hasValue && !stale {
		return value, nil
	}

	ch := i.gate.DoChan(gateKey, i.runFetch)
	if hasValue {
		return value, nil
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, noDataYet(res.Err)
		}
		return valueOf[T](res.Val), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the current value without ever triggering a fetch.
func (i *Item[T]) Peek() (T, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.value, i.hasValue
}

// Refresh requests a fetch and returns without waiting. If a fetch is
// already running, the request folds into it.
func (i *Item[T]) Refresh() {
	i.gate.DoChan(gateKey, i.runFetch)
}

// RefreshWait requests a fetch, like Refresh, and waits for the outcome of
// the fetch it started or joined. A failure is returned as a *FetchError.
func (i *Item[T]) RefreshWait(ctx context.Context) (T, error) {
	ch := i.gate.DoChan(gateKey, i.runFetch)
	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return valueOf[T](res.Val), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ForceClear drops the cached value so the next Get behaves like a first
// access. Call it after any operation that changes the remote state behind
// the item. A fetch already in flight still completes, but its result is
// not stored.
func (i *Item[T]) ForceClear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	var zero T
	i.value = zero
	i.hasValue = false
	i.lastSuccess = time.Time{}
	i.generation++
	i.logger.Debug().Msg("Cached value cleared.")
}

// IsStale reports whether the item has no successful fetch within its TTL.
func (i *Item[T]) IsStale() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.staleLocked(i.clock.Now())
}

// IsFetching reports whether a fetch is currently running.
func (i *Item[T]) IsFetching() bool {
	return i.fetching.Load()
}

// Status returns a snapshot of the item's fetch health.
func (i *Item[T]) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s := Status{
		Name:        i.name,
		Handle:      i.handle,
		TTLSeconds:  i.ttl.Seconds(),
		HasValue:    i.hasValue,
		Stale:       i.staleLocked(i.clock.Now()),
		Fetching:    i.fetching.Load(),
		LastFetch:   i.lastFetch,
		LastSuccess: i.lastSuccess,
		Fetches:     i.fetches,
		Failures:    i.failures,
		Err:         i.lastErr,
	}
	if i.lastErr != nil {
		s.LastError = i.lastErr.Error()
	}
	return s
}

// Close removes the item from its registry. The item can still be read
// afterwards but no scheduler will refresh it.
func (i *Item[T]) Close() error {
	if i.registry != nil {
		i.registry.Unregister(i.handle)
	}
	return nil
}

// staleLocked must be called with mu held.
func (i *Item[T]) staleLocked(now time.Time) bool {
	return i.lastSuccess.IsZero() || now.Sub(i.lastSuccess) >= i.ttl
}

// runFetch is the singleflight body: exactly one runs per item at a time and
// every caller that joined it receives its result.
func (i *Item[T]) runFetch() (any, error) {
	i.fetching.Store(true)
	defer i.fetching.Store(false)

	i.mu.RLock()
	generation := i.generation
	i.mu.RUnlock()

	started := i.clock.Now()
	value, err := i.callFetch()
	finished := i.clock.Now()

	event := FetchEvent{Item: i.name, Handle: i.handle, Started: started, Finished: finished}

	i.mu.Lock()
	i.lastFetch = finished
	i.fetches++
	if err != nil {
		err = &FetchError{Item: i.name, At: finished, Err: err}
		i.lastErr = err
		i.failures++
	} else if generation == i.generation {
		i.value = value
		i.hasValue = true
		i.lastSuccess = finished
		i.lastErr = nil
	} else {
		event.Discarded = true
	}
	i.mu.Unlock()

	event.Err = err
	if err != nil {
		i.logger.Warn().Err(err).Dur("duration", event.Duration()).Msg("Fetch failed.")
	} else {
		i.logger.Debug().Dur("duration", event.Duration()).Bool("discarded", event.Discarded).Msg("Fetch succeeded.")
	}
	if i.observer != nil {
		i.observer.OnFetch(event)
	}

	if err != nil {
		return nil, err
	}
	return value, nil
}

// callFetch runs the fetch function, turning a panic into an error so one
// broken source cannot take the process down.
func (i *Item[T]) callFetch() (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return i.fetch(context.Background())
}

// valueOf unpacks a singleflight result, tolerating a nil interface value.
func valueOf[T any](v any) T {
	t, _ := v.(T)
	return t
}
