// Package ledgerproto defines the small length-prefixed JSON-over-TCP
// protocol spoken between the external-ledger client (internal/accounting's
// RemoteLedger) and cmd/ledgerd. It replaces a generated-protobuf/gRPC
// transport the retrieved example pack could not supply generated stubs
// for (see SPEC_FULL.md §8 and §10) while keeping the same request/batch
// shape an external atomic ledger would expose.
package ledgerproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrame guards against a corrupt length prefix causing an unbounded read.
const maxFrame = 16 << 20

// Request is one RPC call. Params is method-specific JSON.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response carries either Result or Error, never both.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ReserveItem is the wire shape of one reservation request.
type ReserveItem struct {
	Resource  string `json:"resource"`
	Qty       int64  `json:"qty"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// ReserveOutcome is the wire shape of one reservation result.
type ReserveOutcome struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// CreateTransfersParams/Result are the "reserve_batch" method's payloads.
type CreateTransfersParams struct {
	Items []ReserveItem `json:"items"`
}
type CreateTransfersResult struct {
	Outcomes []ReserveOutcome `json:"outcomes"`
}

// PostParams/Result are the "post" method's payloads.
type PostParams struct {
	ID string `json:"id"`
}
type PostResult struct {
	Posted bool `json:"posted"`
}

// VoidParams is the "void" method's payload; it has no result fields.
type VoidParams struct {
	ID string `json:"id"`
}

// FastBookParams/Result are the "fast_book" method's payloads.
type FastBookParams struct {
	Resource string `json:"resource"`
	Qty      int64  `json:"qty"`
}
type FastBookResult struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// InventoryParams/Result are the "inventory" method's payloads.
type InventoryParams struct {
	Resource string `json:"resource"`
}
type InventoryResult struct {
	Capacity    int64 `json:"capacity"`
	Posted      int64 `json:"posted"`
	PendingLive int64 `json:"pending_live"`
}

// GoodiesPostedResult is the "goodies_posted" method's result (no params).
type GoodiesPostedResult struct {
	Posted int64 `json:"posted"`
}

// WriteFrame writes a length-prefixed JSON message.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ledgerproto: marshal: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ledgerproto: write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ledgerproto: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON message into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return fmt.Errorf("ledgerproto: frame too large: %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("ledgerproto: read payload: %w", err)
	}
	return json.Unmarshal(payload, v)
}
