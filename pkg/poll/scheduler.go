package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SchedulerConfig holds configuration for the refresh scheduler.
type SchedulerConfig struct {
	// Interval between registry walks. It should be shorter than the smallest
	// item TTL so that reads normally find fresh data.
	Interval time.Duration
}

// NewSchedulerDefaults provides a config with sensible defaults.
func NewSchedulerDefaults() *SchedulerConfig {
	return &SchedulerConfig{
		Interval: 5 * time.Second,
	}
}

// Scheduler periodically walks a registry and refreshes every stale item,
// whether or not anyone is reading it.
type Scheduler struct {
	registry *Registry
	interval time.Duration
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ticks atomic.Uint64
}

// NewScheduler creates a scheduler for the registry selected by WithRegistry
// (DefaultRegistry if unset). WithClock and WithLogger also apply.
func NewScheduler(cfg *SchedulerConfig, opts ...Option) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("scheduler config cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be greater than 0, got %s", cfg.Interval)
	}
	o, err := getOpts(opts)
	if err != nil {
		return nil, err
	}
	if o.registry == nil {
		return nil, errors.New("scheduler registry cannot be nil")
	}
	return &Scheduler{
		registry: o.registry,
		interval: cfg.Interval,
		clock:    o.clock,
		logger:   o.logger.With().Str("component", "PollScheduler").Logger(),
	}, nil
}

// Start launches the ticking loop. The loop runs until Stop is called or ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
			// Previous loop ended with its context; allow a restart.
		default:
			return ErrSchedulerRunning
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := s.clock.NewTicker(s.interval)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.logger.Info().Dur("interval", s.interval).Msg("Starting poll scheduler...")
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				s.Tick()
			case <-loopCtx.Done():
				s.logger.Info().Msg("Poll scheduler stopped.")
				return
			}
		}
	}()
	return nil
}

// Stop ends the ticking loop and waits for it to exit, respecting the
// context's deadline. Fetches already handed off keep running.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrSchedulerStopped
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick walks the registry once and triggers a refresh on every stale item
// without waiting for any of them. It returns the number of items triggered.
func (s *Scheduler) Tick() int {
	s.ticks.Add(1)
	triggered := 0
	for p := range s.registry.All() {
		if p.IsStale() {
			p.Refresh()
			triggered++
		}
	}
	if triggered > 0 {
		s.logger.Debug().Int("triggered", triggered).Msg("Refreshing stale items.")
	}
	return triggered
}

// RefreshAll triggers a refresh on every registered item regardless of
// staleness and returns the number of items triggered.
func (s *Scheduler) RefreshAll() int {
	n := 0
	for p := range s.registry.All() {
		p.Refresh()
		n++
	}
	s.logger.Info().Int("triggered", n).Msg("Refreshing all items.")
	return n
}

// Ticks returns the number of registry walks performed so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Registry returns the registry the scheduler walks.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}
