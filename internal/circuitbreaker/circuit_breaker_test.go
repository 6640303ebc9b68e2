package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tao-dividends/internal/logging"
)

var errDial = errors.New("dial tcp: connection refused")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type transitionLog struct {
	mu    sync.Mutex
	steps []State
}

func (l *transitionLog) record(_ string, _, to State) {
	l.mu.Lock()
	l.steps = append(l.steps, to)
	l.mu.Unlock()
}

// counters reads the failure and call counts of the current window
func counters(cb *CircuitBreaker) (failures, totalCalls int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.totalCalls
}

func newTestBreaker(t *testing.T, maxFailures int) (*CircuitBreaker, *clock, *transitionLog) {
	t.Helper()
	clk := &clock{now: time.Unix(1700000000, 0)}
	log := &transitionLog{}

	cfg := DefaultConfig("ledger")
	cfg.MaxFailures = maxFailures
	cfg.Timeout = 10 * time.Second
	cfg.Logger = logging.NewTestLogger(t)
	cfg.OnStateChange = log.record

	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk, log
}

func fail() error    { return errDial }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _, log := newTestBreaker(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errDial)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, log.steps)
}

func TestCircuitBreaker_OpensOnFailureRate(t *testing.T) {
	cb, _, _ := newTestBreaker(t, 4)
	ctx := context.Background()

	// fail, ok, fail, ok: 50% over the minimum call count
	require.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, succeed))
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateClosed, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk, log := newTestBreaker(t, 1)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	require.Equal(t, StateOpen, cb.GetState())

	clk.Advance(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, log.steps)

	failures, total := counters(cb)
	assert.Zero(t, failures)
	assert.Zero(t, total)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk, _ := newTestBreaker(t, 1)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clk.Advance(11 * time.Second)
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.GetState())

	// The timeout restarts from the reopen
	clk.Advance(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	cb, clk, _ := newTestBreaker(t, 1)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	clk.Advance(11 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_CanceledContextNotCounted(t *testing.T) {
	cb, _, _ := newTestBreaker(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	err := cb.Execute(ctx, func() error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
	_, total := counters(cb)
	assert.Zero(t, total)

	// Already canceled contexts never reach fn
	called := false
	err = cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
