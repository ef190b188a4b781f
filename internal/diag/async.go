package diag

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"bleq/internal/models"
)

// BatchWriter persists events in batches.
type BatchWriter interface {
	RecordEvents(ctx context.Context, events ...models.Event) error
}

// AsyncConfig ...
type AsyncConfig struct {
	BufferSize    int
	MaxBatch      int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultAsyncConfig ...
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		BufferSize:    1024,
		MaxBatch:      64,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Async is a Sink that hands events to a BatchWriter on its own goroutine.
// When the buffer is full, events are dropped and counted.
type Async struct {
	writer  BatchWriter
	events  chan models.Event
	config  AsyncConfig
	dropped atomic.Uint64
}

// NewAsync ...
func NewAsync(writer BatchWriter, config AsyncConfig) *Async {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultAsyncConfig().BufferSize
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = DefaultAsyncConfig().MaxBatch
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultAsyncConfig().FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultAsyncConfig().WriteTimeout
	}
	return &Async{
		writer: writer,
		events: make(chan models.Event, config.BufferSize),
		config: config,
	}
}

// Record ...
func (a *Async) Record(e models.Event) {
	select {
	case a.events <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped ...
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Run flushes batches until ctx is done, then flushes whatever is buffered.
func (a *Async) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.Event, 0, a.config.MaxBatch)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-a.events:
					batch = append(batch, e)
				default:
					a.flush(batch)
					return nil
				}
			}
		case e := <-a.events:
			batch = append(batch, e)
			if len(batch) >= a.config.MaxBatch {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (a *Async) flush(batch []models.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.config.WriteTimeout)
	defer cancel()
	if err := a.writer.RecordEvents(ctx, batch...); err != nil {
		log.WithError(err).WithField("count", len(batch)).Error("Failed to persist task events")
	}
}
