// Package history records every completed fetch so that source health can be
// charted over longer periods than the in-memory status covers.
package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
)

// FetchRecord is one row of fetch history.
type FetchRecord struct {
	Item       string    `bigquery:"item"`
	Handle     string    `bigquery:"handle"`
	Started    time.Time `bigquery:"started"`
	Finished   time.Time `bigquery:"finished"`
	DurationMS int64     `bigquery:"duration_ms"`
	OK         bool      `bigquery:"ok"`
	Error      string    `bigquery:"error"`
	Discarded  bool      `bigquery:"discarded"`
}

// NewFetchRecord converts a fetch event into a history row.
func NewFetchRecord(event poll.FetchEvent) *FetchRecord {
	r := &FetchRecord{
		Item:       event.Item,
		Handle:     event.Handle.String(),
		Started:    event.Started,
		Finished:   event.Finished,
		DurationMS: event.Duration().Milliseconds(),
		OK:         event.Err == nil,
		Discarded:  event.Discarded,
	}
	if event.Err != nil {
		r.Error = event.Err.Error()
	}
	return r
}

// RecorderConfig holds configuration for the Recorder.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// NewRecorderDefaults provides a config with sensible defaults.
func NewRecorderDefaults() *RecorderConfig {
	return &RecorderConfig{
		BatchSize:     100,
		FlushInterval: 30 * time.Second,
		InsertTimeout: 10 * time.Second,
	}
}

// Recorder batches fetch records and hands them to a RowInserter. It
// implements poll.Observer. OnFetch never blocks: when the buffer is full
// the record is dropped and counted.
type Recorder struct {
	config   *RecorderConfig
	inserter RowInserter[FetchRecord]
	logger   zerolog.Logger

	input   chan *FetchRecord
	stop    chan struct{}
	stopped atomic.Bool
	dropped atomic.Uint64
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder. Call Start before any fetch completes.
func NewRecorder(cfg *RecorderConfig, inserter RowInserter[FetchRecord], logger zerolog.Logger) (*Recorder, error) {
	if cfg == nil {
		return nil, errors.New("recorder config cannot be nil")
	}
	if inserter == nil {
		return nil, errors.New("inserter cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batch size must be greater than 0")
	}
	if cfg.FlushInterval <= 0 || cfg.InsertTimeout <= 0 {
		return nil, errors.New("flush interval and insert timeout must be greater than 0")
	}
	return &Recorder{
		config:   cfg,
		inserter: inserter,
		logger:   logger.With().Str("component", "HistoryRecorder").Logger(),
		input:    make(chan *FetchRecord, cfg.BatchSize*2),
		stop:     make(chan struct{}),
	}, nil
}

// OnFetch implements poll.Observer.
func (r *Recorder) OnFetch(event poll.FetchEvent) {
	if r.stopped.Load() {
		return
	}
	select {
	case r.input <- NewFetchRecord(event):
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn().Msg("History buffer full, dropping fetch records.")
		}
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Start begins the batching worker. The worker runs until Stop is called or
// ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	r.logger.Info().
		Int("batch_size", r.config.BatchSize).
		Dur("flush_interval", r.config.FlushInterval).
		Msg("Starting history recorder...")
	r.wg.Add(1)
	go r.worker(ctx)
}

// Stop flushes whatever is buffered and waits for the worker, respecting the
// context's deadline.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.stopped.Swap(true) {
		return nil
	}
	close(r.stop)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for history recorder to stop.")
		return ctx.Err()
	}
	if err := r.inserter.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Error closing history inserter.")
	}
	r.logger.Info().Uint64("dropped", r.dropped.Load()).Msg("History recorder stopped.")
	return nil
}

func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	batch := make([]*FetchRecord, 0, r.config.BatchSize)
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background(), r.drain(batch))
			return
		case <-r.stop:
			r.flush(context.Background(), r.drain(batch))
			return
		case rec := <-r.input:
			batch = append(batch, rec)
			if len(batch) >= r.config.BatchSize {
				r.flush(ctx, batch)
				batch = make([]*FetchRecord, 0, r.config.BatchSize)
				ticker.Reset(r.config.FlushInterval)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(ctx, batch)
				batch = make([]*FetchRecord, 0, r.config.BatchSize)
			}
		}
	}
}

// drain appends anything still buffered without blocking.
func (r *Recorder) drain(batch []*FetchRecord) []*FetchRecord {
	for {
		select {
		case rec := <-r.input:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

func (r *Recorder) flush(ctx context.Context, batch []*FetchRecord) {
	if len(batch) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, r.config.InsertTimeout)
	defer cancel()

	if err := r.inserter.InsertBatch(insertCtx, batch); err != nil {
		r.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert fetch history, batch dropped.")
		return
	}
	r.logger.Debug().Int("batch_size", len(batch)).Msg("Flushed fetch history.")
}
