package ledgerproto

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client dials the ledger server fresh for every call. This is not the most
// efficient possible transport, but it is trivially correct under
// concurrent use from multiple goroutines (checkout, webhook, batcher)
// without any connection-pool bookkeeping, which matters more for a
// reference external-ledger stand-in than raw throughput.
type Client struct {
	addr    string
	dialer  net.Dialer
	timeout time.Duration
}

// NewClient creates a Client targeting addr (host:port).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("ledgerproto: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("ledgerproto: marshal params: %w", err)
	}

	if err := WriteFrame(conn, Request{Method: method, Params: paramsJSON}); err != nil {
		return err
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return fmt.Errorf("ledgerproto: read response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("ledgerproto: %s", resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("ledgerproto: unmarshal result: %w", err)
		}
	}
	return nil
}

// CreateTransfers submits a batch of reservation requests.
func (c *Client) CreateTransfers(ctx context.Context, items []ReserveItem) (CreateTransfersResult, error) {
	var res CreateTransfersResult
	err := c.call(ctx, "reserve_batch", CreateTransfersParams{Items: items}, &res)
	return res, err
}

// Post commits a pending transfer.
func (c *Client) Post(ctx context.Context, id string) (bool, error) {
	var res PostResult
	err := c.call(ctx, "post", PostParams{ID: id}, &res)
	return res.Posted, err
}

// Void releases a pending transfer.
func (c *Client) Void(ctx context.Context, id string) error {
	return c.call(ctx, "void", VoidParams{ID: id}, nil)
}

// FastBook directly posts qty units with no pending phase.
func (c *Client) FastBook(ctx context.Context, resource string, qty int64) (FastBookResult, error) {
	var res FastBookResult
	err := c.call(ctx, "fast_book", FastBookParams{Resource: resource, Qty: qty}, &res)
	return res, err
}

// Inventory returns a snapshot of one resource.
func (c *Client) Inventory(ctx context.Context, resource string) (InventoryResult, error) {
	var res InventoryResult
	err := c.call(ctx, "inventory", InventoryParams{Resource: resource}, &res)
	return res, err
}

// GoodiesPosted returns the count of posted goodie transfers.
func (c *Client) GoodiesPosted(ctx context.Context) (int64, error) {
	var res GoodiesPostedResult
	err := c.call(ctx, "goodies_posted", struct{}{}, &res)
	return res.Posted, err
}
