package diag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleq/internal/models"
)

func event(seq uint64) models.Event {
	return models.Event{Seq: seq, Kind: "read", Owner: models.PeerOwner("p1"), State: models.TaskStateSucceeded}
}

func TestMemory_KeepsMostRecent(t *testing.T) {
	m := NewMemory(3)
	for i := uint64(1); i <= 2; i++ {
		m.Record(event(i))
	}
	require.Len(t, m.Events(), 2)

	for i := uint64(3); i <= 5; i++ {
		m.Record(event(i))
	}
	var seqs []uint64
	for _, e := range m.Events() {
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}

func TestMulti(t *testing.T) {
	a, b := NewMemory(4), NewMemory(4)
	Multi{a, nil, b}.Record(event(1))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]models.Event
}

func (r *batchRecorder) RecordEvents(_ context.Context, events ...models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]models.Event(nil), events...))
	return nil
}

func (r *batchRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestAsync_FlushesOnSizeAndShutdown(t *testing.T) {
	rec := &batchRecorder{}
	a := NewAsync(rec, AsyncConfig{BufferSize: 16, MaxBatch: 2, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	for i := uint64(1); i <= 3; i++ {
		a.Record(event(i))
	}
	require.Eventually(t, func() bool { return rec.total() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 3, rec.total())
	assert.Zero(t, a.Dropped())
}

func TestAsync_DropsWhenFull(t *testing.T) {
	a := NewAsync(&batchRecorder{}, AsyncConfig{BufferSize: 1})
	a.Record(event(1))
	a.Record(event(2))
	assert.Equal(t, uint64(1), a.Dropped())
}
