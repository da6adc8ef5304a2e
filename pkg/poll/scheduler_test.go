package poll_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_Validation(t *testing.T) {
	t.Run("Nil config", func(t *testing.T) {
		_, err := poll.NewScheduler(nil)
		require.Error(t, err)
	})

	t.Run("Non-positive interval", func(t *testing.T) {
		_, err := poll.NewScheduler(&poll.SchedulerConfig{Interval: 0})
		require.Error(t, err)
	})

	t.Run("Nil registry", func(t *testing.T) {
		_, err := poll.NewScheduler(poll.NewSchedulerDefaults(), poll.WithRegistry(nil))
		require.Error(t, err)
	})
}

func TestScheduler_TickRefreshesOnlyStaleItems(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	registry := poll.NewRegistry()
	opts := []poll.Option{poll.WithClock(clock), poll.WithRegistry(registry)}

	fresh := &mockSource{values: []int{1}}
	freshItem, err := poll.New[int]("fresh", time.Hour, fresh.Fetch, opts...)
	require.NoError(t, err)
	_, err = freshItem.Get(ctx)
	require.NoError(t, err)

	stale := &mockSource{values: []int{2}}
	_, err = poll.New[int]("never-fetched", time.Hour, stale.Fetch, opts...)
	require.NoError(t, err)

	scheduler, err := poll.NewScheduler(poll.NewSchedulerDefaults(), opts...)
	require.NoError(t, err)

	// Act
	triggered := scheduler.Tick()

	// Assert
	assert.Equal(t, 1, triggered)
	require.Eventually(t, func() bool { return stale.callCount.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fresh.callCount.Load(), "Fresh items are left alone")
	assert.Equal(t, uint64(1), scheduler.Ticks())
}

func TestScheduler_TickDoesNotBlockOnSlowBackends(t *testing.T) {
	registry := poll.NewRegistry()
	slow := &mockSource{values: []int{1}, gate: make(chan struct{})}
	t.Cleanup(func() { close(slow.gate) })
	_, err := poll.New[int]("slow", time.Minute, slow.Fetch, poll.WithRegistry(registry))
	require.NoError(t, err)

	scheduler, err := poll.NewScheduler(poll.NewSchedulerDefaults(), poll.WithRegistry(registry))
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() { done <- scheduler.Tick() }()

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("Tick blocked on a slow fetch")
	}
}

func TestScheduler_StartAndStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	clock := clockwork.NewFakeClock()
	registry := poll.NewRegistry()
	opts := []poll.Option{poll.WithClock(clock), poll.WithRegistry(registry), poll.WithLogger(zerolog.Nop())}

	var failures atomic.Int32
	_, err := poll.New[int]("always-failing", time.Minute, func(context.Context) (int, error) {
		failures.Add(1)
		return 0, errors.New("backend down")
	}, opts...)
	require.NoError(t, err)
	healthy := &mockSource{values: []int{5}}
	healthyItem, err := poll.New[int]("healthy", time.Minute, healthy.Fetch, opts...)
	require.NoError(t, err)

	scheduler, err := poll.NewScheduler(&poll.SchedulerConfig{Interval: 10 * time.Second}, opts...)
	require.NoError(t, err)

	// Act
	require.NoError(t, scheduler.Start(ctx))
	assert.ErrorIs(t, scheduler.Start(ctx), poll.ErrSchedulerRunning)

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return scheduler.Ticks() >= 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := healthyItem.Peek()
		return ok
	}, time.Second, 5*time.Millisecond)

	// The failing item keeps being retried on later ticks.
	require.Eventually(t, func() bool { return failures.Load() == 1 }, time.Second, 5*time.Millisecond)
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return failures.Load() >= 2 }, time.Second, 5*time.Millisecond)

	// Assert
	require.NoError(t, scheduler.Stop(ctx))
	assert.ErrorIs(t, scheduler.Stop(ctx), poll.ErrSchedulerStopped)
	assert.Equal(t, int32(1), healthy.callCount.Load(), "A fresh item is not refetched by later ticks")
}

func TestScheduler_RefreshAll(t *testing.T) {
	ctx := context.Background()
	registry := poll.NewRegistry()
	source := &mockSource{values: []int{1, 2}}
	item, err := poll.New[int]("item", time.Hour, source.Fetch, poll.WithRegistry(registry))
	require.NoError(t, err)
	_, err = item.Get(ctx)
	require.NoError(t, err)

	scheduler, err := poll.NewScheduler(poll.NewSchedulerDefaults(), poll.WithRegistry(registry))
	require.NoError(t, err)

	n := scheduler.RefreshAll()

	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool {
		v, _ := item.Peek()
		return v == 2
	}, time.Second, 5*time.Millisecond)
}
