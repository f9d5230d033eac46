package accounting

import (
	"context"
	"time"

	"github.com/renerocksai/tigerfans-go/internal/ledgerproto"
)

// clientReserver adapts *ledgerproto.Client to the RemoteReserver interface
// the batcher expects, translating between the accounting package's wire
// shapes and ledgerproto's.
type clientReserver struct {
	client *ledgerproto.Client
}

func (r clientReserver) CreateTransfers(ctx context.Context, items []ReserveItem) ([]ReserveOutcome, error) {
	wireItems := make([]ledgerproto.ReserveItem, len(items))
	for i, it := range items {
		wireItems[i] = ledgerproto.ReserveItem{
			Resource:  string(it.Resource),
			Qty:       it.Qty,
			TimeoutMS: it.Timeout.Milliseconds(),
		}
	}

	res, err := r.client.CreateTransfers(ctx, wireItems)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ReserveOutcome, len(res.Outcomes))
	for i, o := range res.Outcomes {
		outcomes[i] = ReserveOutcome{ID: TransferID(o.ID), Accepted: o.Accepted}
	}
	return outcomes, nil
}

// RemoteLedger implements Ledger against an external ledger process
// (cmd/ledgerd), coalescing Reserve calls through a Batcher and issuing
// every other operation as a direct single-shot RPC.
type RemoteLedger struct {
	client  *ledgerproto.Client
	batcher *Batcher
}

// NewRemoteLedger wires a RemoteLedger to the ledgerd instance at addr.
func NewRemoteLedger(addr string, timeout time.Duration) *RemoteLedger {
	client := ledgerproto.NewClient(addr, timeout)
	return &RemoteLedger{
		client:  client,
		batcher: NewBatcher(clientReserver{client: client}),
	}
}

// Reserve coalesces with any other Reserve calls in flight via the batcher.
func (l *RemoteLedger) Reserve(ctx context.Context, resource Resource, qty int64, timeout time.Duration) (TransferID, bool, error) {
	outcomes, err := l.batcher.Submit(ctx, []ReserveItem{{Resource: resource, Qty: qty, Timeout: timeout}})
	if err != nil {
		return "", false, err
	}
	outcome := outcomes[0]
	if outcome.Err != nil {
		return "", false, outcome.Err
	}
	return outcome.ID, outcome.Accepted, nil
}

// ReserveMany submits every item as one Batcher.Submit call, so concurrent
// checkouts pack their ticket and goodie reservations into a single RPC
// wherever the batching window allows.
func (l *RemoteLedger) ReserveMany(ctx context.Context, items []TransferRequest) ([]ReserveResult, error) {
	batcherItems := make([]ReserveItem, len(items))
	for i, item := range items {
		batcherItems[i] = ReserveItem{Resource: item.Resource, Qty: item.Qty, Timeout: item.Timeout}
	}

	outcomes, err := l.batcher.Submit(ctx, batcherItems)
	if err != nil {
		return nil, err
	}

	results := make([]ReserveResult, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			return nil, o.Err
		}
		results[i] = ReserveResult{ID: o.ID, Accepted: o.Accepted}
	}
	return results, nil
}

// Post commits a pending transfer by id.
func (l *RemoteLedger) Post(ctx context.Context, id TransferID) (bool, error) {
	return l.client.Post(ctx, string(id))
}

// Void releases a pending transfer by id.
func (l *RemoteLedger) Void(ctx context.Context, id TransferID) error {
	return l.client.Void(ctx, string(id))
}

// FastBook directly posts qty units against resource with no pending phase.
func (l *RemoteLedger) FastBook(ctx context.Context, resource Resource, qty int64) (TransferID, bool, error) {
	res, err := l.client.FastBook(ctx, string(resource), qty)
	if err != nil {
		return "", false, err
	}
	return TransferID(res.ID), res.Accepted, nil
}

// Inventory returns a point-in-time snapshot of one resource.
func (l *RemoteLedger) Inventory(ctx context.Context, resource Resource) (Inventory, error) {
	res, err := l.client.Inventory(ctx, string(resource))
	if err != nil {
		return Inventory{}, err
	}
	return Inventory{
		Resource:    resource,
		Capacity:    res.Capacity,
		Posted:      res.Posted,
		PendingLive: res.PendingLive,
		Available:   res.Capacity - res.Posted - res.PendingLive,
	}, nil
}

// GoodiesPosted returns the count of posted goodie transfers.
func (l *RemoteLedger) GoodiesPosted(ctx context.Context) (int64, error) {
	return l.client.GoodiesPosted(ctx)
}

// ForceFlush blocks until every queued Reserve call has been sent.
func (l *RemoteLedger) ForceFlush(ctx context.Context) error {
	return l.batcher.ForceFlush(ctx)
}

var _ Ledger = (*RemoteLedger)(nil)
