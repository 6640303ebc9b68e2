package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tao-dividends/internal/adapter"
	"github.com/tao-dividends/internal/types"
)

// testAccount returns a deterministic 32 byte account id and its SS58 form
func testAccount(t testing.TB, seed byte) ([]byte, string) {
	t.Helper()
	id := make([]byte, 32)
	for i := range id {
		id[i] = seed + byte(i)
	}
	addr, err := adapter.EncodeSS58(id, adapter.SS58PrefixSubstrate)
	require.NoError(t, err)
	return id, addr
}

func dividendEntry(t testing.TB, netuid int, account []byte, value uint64) adapter.StorageEntry {
	t.Helper()
	key, err := adapter.DividendStorageKey(netuid, account)
	require.NoError(t, err)
	return adapter.StorageEntry{Key: key, Value: adapter.EncodeDividend(value)}
}

// fakeLedger serves storage from an in-memory table keyed by block and netuid
type fakeLedger struct {
	mu        sync.Mutex
	head      adapter.BlockRef
	state     map[adapter.BlockRef]map[int][]adapter.StorageEntry
	failing   map[int]error
	panicking map[int]bool
	openErr   error
	headErr   error
	delay     time.Duration

	opens      int32
	headCalls  int32
	closes     int32
	queried    []int
	blocksSeen map[adapter.BlockRef]int

	stakeErr error
	stakes   []mutation
	unstakes []mutation
}

type mutation struct {
	amount float64
	hotkey string
	netuid int
}

func newFakeLedger(head adapter.BlockRef) *fakeLedger {
	return &fakeLedger{
		head:       head,
		state:      map[adapter.BlockRef]map[int][]adapter.StorageEntry{},
		failing:    map[int]error{},
		panicking:  map[int]bool{},
		blocksSeen: map[adapter.BlockRef]int{},
	}
}

func (l *fakeLedger) put(block adapter.BlockRef, netuid int, entries ...adapter.StorageEntry) {
	if l.state[block] == nil {
		l.state[block] = map[int][]adapter.StorageEntry{}
	}
	l.state[block][netuid] = append(l.state[block][netuid], entries...)
}

func (l *fakeLedger) Open(ctx context.Context) (adapter.Session, error) {
	atomic.AddInt32(&l.opens, 1)
	if l.openErr != nil {
		return nil, fmt.Errorf("%w: %v", adapter.ErrLedgerUnavailable, l.openErr)
	}
	return &fakeSession{ledger: l}, nil
}

type fakeSession struct {
	ledger *fakeLedger
}

func (s *fakeSession) HeadBlock(ctx context.Context) (adapter.BlockRef, error) {
	atomic.AddInt32(&s.ledger.headCalls, 1)
	if s.ledger.headErr != nil {
		return "", s.ledger.headErr
	}
	return s.ledger.head, nil
}

func (s *fakeSession) QueryMap(ctx context.Context, module, item string, netuid int, block adapter.BlockRef) ([]adapter.StorageEntry, error) {
	l := s.ledger
	if l.delay > 0 {
		time.Sleep(l.delay)
	}

	l.mu.Lock()
	l.queried = append(l.queried, netuid)
	l.blocksSeen[block]++
	err := l.failing[netuid]
	shouldPanic := l.panicking[netuid]
	entries := l.state[block][netuid]
	l.mu.Unlock()

	if module != adapter.DividendModule || item != adapter.DividendStorageItem {
		return nil, errors.New("unexpected storage location")
	}
	if shouldPanic {
		panic("decoder exploded")
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *fakeSession) Stake(ctx context.Context, amount float64, hotkey string, netuid int) error {
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stakes = append(l.stakes, mutation{amount, hotkey, netuid})
	return l.stakeErr
}

func (s *fakeSession) Unstake(ctx context.Context, amount float64, hotkey string, netuid int) error {
	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unstakes = append(l.unstakes, mutation{amount, hotkey, netuid})
	return l.stakeErr
}

func (s *fakeSession) Close() {
	atomic.AddInt32(&s.ledger.closes, 1)
}

// recordingRecorder captures Recorder calls
type recordingRecorder struct {
	mu           sync.Mutex
	queries      int
	queryErrors  int
	subnetFailed []int
	jobStatuses  []types.OutcomeStatus
}

func (r *recordingRecorder) ChainQueryCompleted(_ time.Duration, _ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	if err != nil {
		r.queryErrors++
	}
}

func (r *recordingRecorder) SubnetQueryFailed(netuid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subnetFailed = append(r.subnetFailed, netuid)
}

func (r *recordingRecorder) JobCompleted(status types.OutcomeStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobStatuses = append(r.jobStatuses, status)
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
