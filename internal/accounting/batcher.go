package accounting

import (
	"context"
	"sync"
	"time"

	"github.com/renerocksai/tigerfans-go/internal/metrics"
)

// MaxBatch bounds how many reserve requests are sent to the remote ledger
// in a single RPC.
const MaxBatch = 200

// ReserveItem is one reservation request fed into the batcher.
type ReserveItem struct {
	Resource Resource
	Qty      int64
	Timeout  time.Duration
}

// ReserveOutcome is the batcher's per-item result, positionally parallel to
// the ReserveItem slice passed to Submit.
type ReserveOutcome struct {
	ID       TransferID
	Accepted bool
	Err      error
}

// RemoteReserver is the network call the batcher coalesces requests into.
// Implemented by clientReserver, an adapter over the ledgerproto client
// (see remoteledger.go). The returned slice must be
// positionally parallel to items; a returned top-level error means the
// whole batch failed (no per-item outcome is trustworthy).
type RemoteReserver interface {
	CreateTransfers(ctx context.Context, items []ReserveItem) ([]ReserveOutcome, error)
}

// submission is one caller's call to Batcher.Submit, possibly spanning
// multiple physical batches if the queue is long.
type submission struct {
	items     []ReserveItem
	collected []ReserveOutcome
	consumed  int // items already assembled into some batch
	remaining int // items not yet resolved
	result    chan []ReserveOutcome
}

// Batcher implements the continuous chained batching algorithm: producers
// enqueue work under a short-held mutex; a single worker goroutine is
// guaranteed to run whenever the queue is non-empty and tears itself down
// when it drains. The RPC to the remote ledger always runs outside the
// lock; only queue bookkeeping and completion resolution happen under it.
type Batcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*submission
	running bool
	client  RemoteReserver
}

// NewBatcher wires a Batcher to the given remote ledger client.
func NewBatcher(client RemoteReserver) *Batcher {
	b := &Batcher{client: client}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Submit enqueues items and blocks until every item has a resolved
// outcome, or ctx is canceled first. The returned slice is positionally
// parallel to items.
func (b *Batcher) Submit(ctx context.Context, items []ReserveItem) ([]ReserveOutcome, error) {
	if len(items) == 0 {
		return nil, nil
	}

	sub := &submission{
		items:     items,
		collected: make([]ReserveOutcome, len(items)),
		remaining: len(items),
		result:    make(chan []ReserveOutcome, 1),
	}

	b.mu.Lock()
	b.queue = append(b.queue, sub)
	if !b.running {
		b.running = true
		go b.run()
	}
	b.mu.Unlock()

	select {
	case out := <-sub.result:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ForceFlush blocks until the queue is fully drained and no worker is
// running, or ctx is canceled. It does not cancel an in-flight RPC; it
// waits for it to finish naturally.
func (b *Batcher) ForceFlush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.mu.Lock()
		for b.running || len(b.queue) > 0 {
			b.cond.Wait()
		}
		b.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single worker goroutine. It assembles one batch at a time,
// runs the RPC outside the lock, and resolves completions under the lock.
func (b *Batcher) run() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.running = false
			b.cond.Broadcast()
			b.mu.Unlock()
			return
		}

		type mapping struct {
			sub         *submission
			startOffset int
			count       int
			batchOffset int
		}

		var batch []ReserveItem
		var mappings []mapping

		for len(b.queue) > 0 && len(batch) < MaxBatch {
			s := b.queue[0]
			remainingRoom := MaxBatch - len(batch)
			take := len(s.items) - s.consumed
			if take > remainingRoom {
				take = remainingRoom
			}

			mappings = append(mappings, mapping{
				sub:         s,
				startOffset: s.consumed,
				count:       take,
				batchOffset: len(batch),
			})
			batch = append(batch, s.items[s.consumed:s.consumed+take]...)
			s.consumed += take

			if s.consumed == len(s.items) {
				b.queue = b.queue[1:]
			}
		}
		b.mu.Unlock()

		metrics.BatcherBatchSize.Observe(float64(len(batch)))
		start := time.Now()
		outcomes, rpcErr := b.client.CreateTransfers(context.Background(), batch)
		metrics.BatcherFlushSeconds.Observe(time.Since(start).Seconds())

		b.mu.Lock()
		for _, m := range mappings {
			for i := 0; i < m.count; i++ {
				var outcome ReserveOutcome
				if rpcErr != nil {
					outcome = ReserveOutcome{Accepted: false, Err: rpcErr}
				} else {
					outcome = outcomes[m.batchOffset+i]
				}
				m.sub.collected[m.startOffset+i] = outcome
			}
			m.sub.remaining -= m.count
			if m.sub.remaining == 0 {
				m.sub.result <- m.sub.collected
			}
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}
