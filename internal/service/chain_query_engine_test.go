package service

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tao-dividends/internal/adapter"
	"github.com/tao-dividends/internal/circuitbreaker"
	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/types"
)

const headBlock adapter.BlockRef = "0xhead"

func TestChainQueryEngine_SingleSubnet(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	alice, aliceAddr := testAccount(t, 1)
	bob, bobAddr := testAccount(t, 2)
	ledger.put(headBlock, 5, dividendEntry(t, 5, alice, 100), dividendEntry(t, 5, bob, 250))
	ledger.put(headBlock, 6, dividendEntry(t, 6, alice, 999))

	engine := NewChainQueryEngine(ledger, 20, logging.NewTestLogger(t))
	agg, err := engine.Query(context.Background(), types.NewQueryScope(intPtr(5), nil))
	require.NoError(t, err)

	assert.Equal(t, []int{5}, ledger.queried)
	assert.False(t, agg.ServedFromCache)
	assert.Equal(t, map[string]types.SubnetDividends{
		"netuid_5": {aliceAddr: 100, bobAddr: 250},
	}, agg.PerSubnet)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ledger.closes))
}

func TestChainQueryEngine_AllSubnetsOmitsEmpty(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	alice, aliceAddr := testAccount(t, 1)
	ledger.put(headBlock, 1, dividendEntry(t, 1, alice, 7))
	ledger.put(headBlock, 20, dividendEntry(t, 20, alice, 8))

	engine := NewChainQueryEngine(ledger, 20, logging.NewTestLogger(t))
	agg, err := engine.Query(context.Background(), types.QueryScope{})
	require.NoError(t, err)

	queried := append([]int(nil), ledger.queried...)
	sort.Ints(queried)
	expected := make([]int, 20)
	for i := range expected {
		expected[i] = i + 1
	}
	assert.Equal(t, expected, queried)

	assert.Len(t, agg.PerSubnet, 2)
	assert.Equal(t, uint64(7), agg.PerSubnet["netuid_1"][aliceAddr])
	assert.Equal(t, uint64(8), agg.PerSubnet["netuid_20"][aliceAddr])
}

func TestChainQueryEngine_HotkeyFilter(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	alice, aliceAddr := testAccount(t, 1)
	bob, _ := testAccount(t, 2)
	ledger.put(headBlock, 3, dividendEntry(t, 3, alice, 11), dividendEntry(t, 3, bob, 12))
	ledger.put(headBlock, 4, dividendEntry(t, 4, bob, 13))

	engine := NewChainQueryEngine(ledger, 5, logging.NewTestLogger(t))
	agg, err := engine.Query(context.Background(), types.NewQueryScope(nil, strPtr(aliceAddr)))
	require.NoError(t, err)

	// Subnet 4 only holds bob and must be omitted
	assert.Equal(t, map[string]types.SubnetDividends{
		"netuid_3": {aliceAddr: 11},
	}, agg.PerSubnet)
}

func TestChainQueryEngine_SubnetFailureIsolated(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	alice, aliceAddr := testAccount(t, 1)
	ledger.put(headBlock, 1, dividendEntry(t, 1, alice, 1))
	ledger.put(headBlock, 2, dividendEntry(t, 2, alice, 2))
	ledger.put(headBlock, 3, dividendEntry(t, 3, alice, 3))
	ledger.failing[2] = errors.New("storage scan timed out")
	ledger.panicking[3] = true

	recorder := &recordingRecorder{}
	engine := NewChainQueryEngine(ledger, 3, logging.NewTestLogger(t), WithEngineRecorder(recorder))
	agg, err := engine.Query(context.Background(), types.QueryScope{})
	require.NoError(t, err)

	assert.Equal(t, map[string]types.SubnetDividends{
		"netuid_1": {aliceAddr: 1},
	}, agg.PerSubnet)

	sort.Ints(recorder.subnetFailed)
	assert.Equal(t, []int{2, 3}, recorder.subnetFailed)
	assert.Equal(t, 1, recorder.queries)
	assert.Equal(t, 0, recorder.queryErrors)
}

func TestChainQueryEngine_CorruptValueFailsOnlyThatSubnet(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	alice, aliceAddr := testAccount(t, 1)
	bad := dividendEntry(t, 2, alice, 5)
	bad.Value = []byte{0x01}
	ledger.put(headBlock, 1, dividendEntry(t, 1, alice, 1))
	ledger.put(headBlock, 2, bad)

	engine := NewChainQueryEngine(ledger, 2, logging.NewTestLogger(t))
	agg, err := engine.Query(context.Background(), types.QueryScope{})
	require.NoError(t, err)
	assert.Equal(t, map[string]types.SubnetDividends{"netuid_1": {aliceAddr: 1}}, agg.PerSubnet)
}

func TestChainQueryEngine_SingleSnapshot(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	alice, aliceAddr := testAccount(t, 1)
	// A later block carries different values; none may leak into the aggregate
	ledger.put(headBlock, 1, dividendEntry(t, 1, alice, 10))
	ledger.put("0xlater", 1, dividendEntry(t, 1, alice, 99))
	ledger.put("0xlater", 2, dividendEntry(t, 2, alice, 99))

	engine := NewChainQueryEngine(ledger, 4, logging.NewTestLogger(t))
	agg, err := engine.Query(context.Background(), types.QueryScope{})
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&ledger.headCalls))
	assert.Equal(t, map[adapter.BlockRef]int{headBlock: 4}, ledger.blocksSeen)
	assert.Equal(t, map[string]types.SubnetDividends{"netuid_1": {aliceAddr: 10}}, agg.PerSubnet)
}

func TestChainQueryEngine_ConnectionFailureIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(l *fakeLedger)
	}{
		{"open fails", func(l *fakeLedger) { l.openErr = errors.New("dial tcp: refused") }},
		{"head block fails", func(l *fakeLedger) { l.headErr = errors.New("rpc timeout") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger(headBlock)
			tt.setup(ledger)
			recorder := &recordingRecorder{}

			engine := NewChainQueryEngine(ledger, 3, logging.NewTestLogger(t), WithEngineRecorder(recorder))
			agg, err := engine.Query(context.Background(), types.QueryScope{})

			require.Error(t, err)
			assert.Nil(t, agg)
			assert.True(t, apperrors.IsChainUnavailable(err))
			assert.Empty(t, ledger.queried)
			assert.Equal(t, 1, recorder.queryErrors)
		})
	}
}

func TestChainQueryEngine_HeadFailureClosesSession(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	ledger.headErr = errors.New("rpc timeout")

	engine := NewChainQueryEngine(ledger, 3, logging.NewTestLogger(t))
	_, err := engine.Query(context.Background(), types.QueryScope{})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ledger.closes))
}

func TestChainQueryEngine_CircuitBreakerFailsFast(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	ledger.openErr = errors.New("dial tcp: refused")

	cfg := circuitbreaker.DefaultConfig("ledger")
	cfg.MaxFailures = 2
	cfg.Timeout = time.Hour
	cfg.Logger = logging.NewTestLogger(t)
	cb := circuitbreaker.NewCircuitBreaker(cfg)

	engine := NewChainQueryEngine(ledger, 3, logging.NewTestLogger(t), WithCircuitBreaker(cb))
	for i := 0; i < 2; i++ {
		_, err := engine.Query(context.Background(), types.QueryScope{})
		require.Error(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, cb.GetState())

	_, err := engine.Query(context.Background(), types.QueryScope{})
	require.Error(t, err)
	assert.True(t, apperrors.IsChainUnavailable(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.EqualValues(t, 2, atomic.LoadInt32(&ledger.opens))
}

func TestChainQueryEngine_SubnetsQueriedConcurrently(t *testing.T) {
	ledger := newFakeLedger(headBlock)
	ledger.delay = 50 * time.Millisecond

	engine := NewChainQueryEngine(ledger, 20, logging.NewTestLogger(t))
	start := time.Now()
	_, err := engine.Query(context.Background(), types.QueryScope{})
	require.NoError(t, err)

	// Sequential scanning would take at least 20 * 50ms
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestChainQueryEngine_WorkingSet(t *testing.T) {
	engine := NewChainQueryEngine(newFakeLedger(headBlock), 0, logging.NewNopLogger())
	assert.Len(t, engine.WorkingSet(types.QueryScope{}), DefaultNumSubnets)
	assert.Equal(t, []int{0}, engine.WorkingSet(types.NewQueryScope(intPtr(0), nil)))
}
