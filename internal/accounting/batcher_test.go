package accounting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReserver counts how many RPCs it was called with and how many
// items each one carried, so tests can assert on coalescing behavior.
type recordingReserver struct {
	mu        sync.Mutex
	callCount int
	batchLens []int
	delay     time.Duration
}

func (r *recordingReserver) CreateTransfers(ctx context.Context, items []ReserveItem) ([]ReserveOutcome, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.callCount++
	r.batchLens = append(r.batchLens, len(items))
	r.mu.Unlock()

	out := make([]ReserveOutcome, len(items))
	for i := range items {
		out[i] = ReserveOutcome{ID: TransferID("t"), Accepted: true}
	}
	return out, nil
}

func TestBatcher_SingleSubmitRoundTrips(t *testing.T) {
	reserver := &recordingReserver{}
	b := NewBatcher(reserver)

	outcomes, err := b.Submit(context.Background(), []ReserveItem{
		{Resource: ClassA, Qty: 1, Timeout: time.Minute},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Accepted)
	assert.Equal(t, 1, reserver.callCount)
}

func TestBatcher_ConcurrentSubmitsCoalesce(t *testing.T) {
	reserver := &recordingReserver{delay: 20 * time.Millisecond}
	b := NewBatcher(reserver)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			outcomes, err := b.Submit(context.Background(), []ReserveItem{
				{Resource: ClassA, Qty: 1, Timeout: time.Minute},
			})
			assert.NoError(t, err)
			assert.Len(t, outcomes, 1)
		}()
	}
	wg.Wait()

	reserver.mu.Lock()
	defer reserver.mu.Unlock()
	assert.Less(t, reserver.callCount, n, "concurrent submits should coalesce into fewer RPCs than submitters")

	total := 0
	for _, l := range reserver.batchLens {
		total += l
	}
	assert.Equal(t, n, total)
}

func TestBatcher_RespectsMaxBatch(t *testing.T) {
	reserver := &recordingReserver{}
	b := NewBatcher(reserver)

	items := make([]ReserveItem, MaxBatch+50)
	for i := range items {
		items[i] = ReserveItem{Resource: ClassA, Qty: 1, Timeout: time.Minute}
	}

	outcomes, err := b.Submit(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, outcomes, len(items))

	reserver.mu.Lock()
	defer reserver.mu.Unlock()
	for _, l := range reserver.batchLens {
		assert.LessOrEqual(t, l, MaxBatch)
	}
}

func TestBatcher_ForceFlushWaitsForDrain(t *testing.T) {
	reserver := &recordingReserver{delay: 10 * time.Millisecond}
	b := NewBatcher(reserver)

	go func() {
		_, _ = b.Submit(context.Background(), []ReserveItem{{Resource: ClassA, Qty: 1, Timeout: time.Minute}})
	}()

	// Give the submit a moment to enqueue before flushing.
	time.Sleep(2 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.ForceFlush(ctx))

	reserver.mu.Lock()
	defer reserver.mu.Unlock()
	assert.GreaterOrEqual(t, reserver.callCount, 1)
}
