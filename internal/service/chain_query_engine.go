package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tao-dividends/internal/adapter"
	"github.com/tao-dividends/internal/circuitbreaker"
	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/types"
)

// DefaultNumSubnets is the size of the subnet range scanned when no netuid is given
const DefaultNumSubnets = 20

// ChainQueryEngine reads dividend values for a scope from one ledger snapshot.
//
// The connection and head block lookup happen once per call and any failure
// there is fatal. Subnets are then queried in parallel at that block; a failing
// subnet contributes nothing and never aborts the aggregate.
type ChainQueryEngine struct {
	ledger     adapter.Ledger
	numSubnets int
	breaker    *circuitbreaker.CircuitBreaker
	recorder   Recorder
	logger     *logging.Logger
}

// EngineOption configures a ChainQueryEngine
type EngineOption func(*ChainQueryEngine)

// WithCircuitBreaker guards the connection step with cb
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) EngineOption {
	return func(e *ChainQueryEngine) {
		e.breaker = cb
	}
}

// WithEngineRecorder reports query measurements to r
func WithEngineRecorder(r Recorder) EngineOption {
	return func(e *ChainQueryEngine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewChainQueryEngine creates an engine scanning subnets 1..numSubnets
func NewChainQueryEngine(ledger adapter.Ledger, numSubnets int, logger *logging.Logger, opts ...EngineOption) *ChainQueryEngine {
	if numSubnets <= 0 {
		numSubnets = DefaultNumSubnets
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	e := &ChainQueryEngine{
		ledger:     ledger,
		numSubnets: numSubnets,
		recorder:   nopRecorder{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkingSet returns the subnet ids a scope covers
func (e *ChainQueryEngine) WorkingSet(scope types.QueryScope) []int {
	if scope.NetUID != nil {
		return []int{*scope.NetUID}
	}
	netuids := make([]int, e.numSubnets)
	for i := range netuids {
		netuids[i] = i + 1
	}
	return netuids
}

// Query returns the dividends matching scope.
// Returns a ChainUnavailable error if the ledger cannot be reached or the head
// block cannot be resolved.
func (e *ChainQueryEngine) Query(ctx context.Context, scope types.QueryScope) (*types.DividendAggregate, error) {
	start := time.Now()

	session, block, err := e.snapshot(ctx)
	if err != nil {
		e.logger.WithFields(map[string]interface{}{
			"netuid": scope.NetUIDLabel(),
			"hotkey": scope.HotkeyLabel(),
		}).ErrorWithErr("ledger snapshot failed", err)
		e.recorder.ChainQueryCompleted(time.Since(start), 0, err)
		return nil, apperrors.NewChainUnavailableError(err)
	}
	defer session.Close()

	netuids := e.WorkingSet(scope)

	// One slot per subnet; each goroutine writes only its own index
	results := make([]types.SubnetDividends, len(netuids))

	var wg sync.WaitGroup
	for i, netuid := range netuids {
		wg.Add(1)
		go func(i, netuid int) {
			defer wg.Done()
			results[i] = e.querySubnet(ctx, session, block, netuid, scope.Hotkey)
		}(i, netuid)
	}
	wg.Wait()

	agg := &types.DividendAggregate{
		PerSubnet: make(map[string]types.SubnetDividends),
		Scope:     scope,
	}
	for i, netuid := range netuids {
		if len(results[i]) > 0 {
			agg.PerSubnet[types.SubnetLabel(netuid)] = results[i]
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"block":       string(block),
		"netuid":      scope.NetUIDLabel(),
		"hotkey":      scope.HotkeyLabel(),
		"subnets":     len(netuids),
		"withResults": len(agg.PerSubnet),
		"durationMs":  time.Since(start).Milliseconds(),
	}).Debug("dividend query completed")

	e.recorder.ChainQueryCompleted(time.Since(start), len(netuids), nil)
	return agg, nil
}

// snapshot opens a session and resolves the head block, through the breaker when one is set
func (e *ChainQueryEngine) snapshot(ctx context.Context) (adapter.Session, adapter.BlockRef, error) {
	var (
		session adapter.Session
		block   adapter.BlockRef
	)

	open := func() error {
		s, err := e.ledger.Open(ctx)
		if err != nil {
			return err
		}
		b, err := s.HeadBlock(ctx)
		if err != nil {
			s.Close()
			return fmt.Errorf("resolve head block: %w", err)
		}
		session, block = s, b
		return nil
	}

	var err error
	if e.breaker != nil {
		err = e.breaker.Execute(ctx, open)
	} else {
		err = open()
	}
	if err != nil {
		return nil, "", err
	}
	return session, block, nil
}

// querySubnet scans one subnet at block. Any failure is logged and yields nil.
func (e *ChainQueryEngine) querySubnet(ctx context.Context, session adapter.Session, block adapter.BlockRef, netuid int, hotkey *string) (result types.SubnetDividends) {
	fail := func(err error) {
		e.logger.WithFields(map[string]interface{}{
			"netuid": netuid,
			"block":  string(block),
		}).ErrorWithErr("subnet dividend query failed", apperrors.NewSubnetQueryError(netuid, err))
		e.recorder.SubnetQueryFailed(netuid)
		result = nil
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	entries, err := session.QueryMap(ctx, adapter.DividendModule, adapter.DividendStorageItem, netuid, block)
	if err != nil {
		fail(err)
		return nil
	}

	out := make(types.SubnetDividends)
	for _, entry := range entries {
		account, err := adapter.DecodeAccountID(entry.Key)
		if err != nil {
			fail(err)
			return nil
		}
		if hotkey != nil && account != *hotkey {
			continue
		}
		value, err := adapter.DecodeDividend(entry.Value)
		if err != nil {
			fail(fmt.Errorf("account %s: %w", account, err))
			return nil
		}
		out[account] = value
	}
	return out
}
