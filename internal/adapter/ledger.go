// Package adapter provides ledger and upstream service adapters for the dividends service.
package adapter

import (
	"context"
	"fmt"
)

// Storage location of per-subnet dividend values
const (
	DividendModule      = "SubtensorModule"
	DividendStorageItem = "TaoDividendsPerSubnet"
)

// BlockRef identifies a fixed point-in-time ledger state (a block hash)
type BlockRef string

// StorageEntry is one raw (key, value) pair read from a storage map
type StorageEntry struct {
	Key   []byte
	Value []byte
}

// Ledger opens sessions against a ledger node
type Ledger interface {
	// Open connects to the node. Returns ErrLedgerUnavailable (wrapped) if the
	// endpoint cannot be reached.
	Open(ctx context.Context) (Session, error)
}

// Session is a single connection to a ledger node
type Session interface {
	// HeadBlock returns the current head block reference
	HeadBlock(ctx context.Context) (BlockRef, error)

	// QueryMap returns every entry of module.item under the netuid key at the given block
	QueryMap(ctx context.Context, module, item string, netuid int, block BlockRef) ([]StorageEntry, error)

	// Stake adds amount of stake to hotkey on netuid
	Stake(ctx context.Context, amount float64, hotkey string, netuid int) error

	// Unstake removes amount of stake from hotkey on netuid
	Unstake(ctx context.Context, amount float64, hotkey string, netuid int) error

	// Close releases the connection
	Close()
}

// Common error types for adapters

var (
	// ErrLedgerUnavailable indicates the ledger node could not be reached
	ErrLedgerUnavailable = fmt.Errorf("ledger node unavailable")

	// ErrExtrinsicUnsupported indicates a ledger mutation that requires signing, which is not implemented
	ErrExtrinsicUnsupported = fmt.Errorf("signed extrinsics are not supported")

	// ErrInvalidStorageKey indicates a storage key that cannot be decoded
	ErrInvalidStorageKey = fmt.Errorf("invalid storage key")

	// ErrInvalidStorageValue indicates a storage value that cannot be decoded
	ErrInvalidStorageValue = fmt.Errorf("invalid storage value")

	// ErrUpstreamStatus indicates an upstream HTTP service returned a non-success status
	ErrUpstreamStatus = fmt.Errorf("upstream returned non-success status")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Service string
	Op      string // Operation that failed (e.g., "HeadBlock", "Search")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("adapter error [%s:%s]: %v (details: %+v)", e.Service, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("adapter error [%s:%s]: %v", e.Service, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(service string, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Service: service,
		Op:      op,
		Err:     err,
		Details: details,
	}
}
