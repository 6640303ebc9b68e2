package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tao-dividends/internal/logging"
)

const (
	substrateService   = "substrate"
	defaultKeyPageSize = 1000
)

// SubstrateConfig holds configuration for the Substrate JSON-RPC ledger
type SubstrateConfig struct {
	// Endpoint is the node URL (ws://, wss://, http:// or https://)
	Endpoint string
	// PageSize is the number of keys fetched per state_getKeysPaged call
	// Default: 1000
	PageSize int
}

// SubstrateLedger opens JSON-RPC sessions against a Substrate node
type SubstrateLedger struct {
	endpoint string
	pageSize int
	logger   *logging.Logger
}

// NewSubstrateLedger creates a ledger for the configured endpoint
func NewSubstrateLedger(cfg SubstrateConfig, logger *logging.Logger) (*SubstrateLedger, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultKeyPageSize
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SubstrateLedger{
		endpoint: cfg.Endpoint,
		pageSize: pageSize,
		logger:   logger.WithField("component", "substrate_ledger"),
	}, nil
}

// Open dials the node
func (l *SubstrateLedger) Open(ctx context.Context) (Session, error) {
	client, err := rpc.DialContext(ctx, l.endpoint)
	if err != nil {
		return nil, NewAdapterError(substrateService, "Open", fmt.Errorf("%w: %v", ErrLedgerUnavailable, err),
			map[string]interface{}{"endpoint": l.endpoint})
	}
	return &substrateSession{client: client, pageSize: l.pageSize, logger: l.logger}, nil
}

// rpcCaller is the subset of *rpc.Client used by a session
type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

type substrateSession struct {
	client    rpcCaller
	pageSize  int
	logger    *logging.Logger
	closeOnce sync.Once
}

// storageChangeSet is one element of the state_queryStorageAt result
type storageChangeSet struct {
	Block   string             `json:"block"`
	Changes [][]*hexutil.Bytes `json:"changes"`
}

// HeadBlock returns the hash of the current head
func (s *substrateSession) HeadBlock(ctx context.Context) (BlockRef, error) {
	var hash string
	if err := s.client.CallContext(ctx, &hash, "chain_getHead"); err != nil {
		return "", NewAdapterError(substrateService, "HeadBlock", err, nil)
	}
	if hash == "" {
		return "", NewAdapterError(substrateService, "HeadBlock", fmt.Errorf("empty head block hash"), nil)
	}
	return BlockRef(hash), nil
}

// QueryMap pages through every key under the subnet prefix at block and fetches the values
func (s *substrateSession) QueryMap(ctx context.Context, module, item string, netuid int, block BlockRef) ([]StorageEntry, error) {
	prefix, err := SubnetMapPrefix(module, item, netuid)
	if err != nil {
		return nil, NewAdapterError(substrateService, "QueryMap", err, nil)
	}
	prefixHex := hexutil.Encode(prefix)
	at := string(block)

	var entries []StorageEntry
	var startKey *string
	for {
		var keys []hexutil.Bytes
		if err := s.client.CallContext(ctx, &keys, "state_getKeysPaged", prefixHex, s.pageSize, startKey, at); err != nil {
			return nil, NewAdapterError(substrateService, "QueryMap", err,
				map[string]interface{}{"netuid": netuid, "method": "state_getKeysPaged"})
		}
		if len(keys) == 0 {
			break
		}

		page, err := s.fetchValues(ctx, keys, at)
		if err != nil {
			return nil, NewAdapterError(substrateService, "QueryMap", err,
				map[string]interface{}{"netuid": netuid, "method": "state_queryStorageAt"})
		}
		entries = append(entries, page...)

		if len(keys) < s.pageSize {
			break
		}
		last := hexutil.Encode(keys[len(keys)-1])
		startKey = &last
	}

	s.logger.WithFields(map[string]interface{}{
		"netuid":  netuid,
		"block":   at,
		"entries": len(entries),
	}).Debug("storage map read")

	return entries, nil
}

func (s *substrateSession) fetchValues(ctx context.Context, keys []hexutil.Bytes, at string) ([]StorageEntry, error) {
	hexKeys := make([]string, len(keys))
	for i, k := range keys {
		hexKeys[i] = hexutil.Encode(k)
	}

	var sets []storageChangeSet
	if err := s.client.CallContext(ctx, &sets, "state_queryStorageAt", hexKeys, at); err != nil {
		return nil, err
	}

	entries := make([]StorageEntry, 0, len(keys))
	for _, set := range sets {
		for _, change := range set.Changes {
			if len(change) != 2 || change[0] == nil || change[1] == nil {
				// removed or malformed entry
				continue
			}
			entries = append(entries, StorageEntry{Key: *change[0], Value: *change[1]})
		}
	}
	return entries, nil
}

// Stake is not supported: it requires a signed extrinsic
func (s *substrateSession) Stake(ctx context.Context, amount float64, hotkey string, netuid int) error {
	return NewAdapterError(substrateService, "Stake", ErrExtrinsicUnsupported,
		map[string]interface{}{"amount": amount, "hotkey": hotkey, "netuid": netuid})
}

// Unstake is not supported: it requires a signed extrinsic
func (s *substrateSession) Unstake(ctx context.Context, amount float64, hotkey string, netuid int) error {
	return NewAdapterError(substrateService, "Unstake", ErrExtrinsicUnsupported,
		map[string]interface{}{"amount": amount, "hotkey": hotkey, "netuid": netuid})
}

// Close closes the underlying RPC client
func (s *substrateSession) Close() {
	s.closeOnce.Do(s.client.Close)
}
