package job

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/storage"
)

func newDepthGauge() prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "test"})
}

func TestMonitorDepth_TracksRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	queue := storage.NewTaskQueue(storage.NewRedisCacheFromClient(client), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 2; i++ {
		_, err := queue.Submit(ctx, 18, "5Hot")
		require.NoError(t, err)
	}

	gauge := newDepthGauge()
	done := make(chan struct{})
	go func() {
		MonitorDepth(ctx, queue, gauge, 5*time.Millisecond, logging.NewTestLogger(t))
		close(done)
	}()

	require.Eventually(t, func() bool { return testutil.ToFloat64(gauge) == 2 }, 2*time.Second, 5*time.Millisecond)

	_, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return testutil.ToFloat64(gauge) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MonitorDepth did not return after cancel")
	}
}

type flakyDepth struct {
	calls atomic.Int32
}

func (f *flakyDepth) Depth(context.Context) (int64, error) {
	if f.calls.Add(1) == 1 {
		return 4, nil
	}
	return 0, errors.New("redis: connection refused")
}

func TestMonitorDepth_FailedSampleKeepsLastValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &flakyDepth{}
	gauge := newDepthGauge()
	done := make(chan struct{})
	go func() {
		MonitorDepth(ctx, reader, gauge, 5*time.Millisecond, logging.NewNopLogger())
		close(done)
	}()

	require.Eventually(t, func() bool { return reader.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 4.0, testutil.ToFloat64(gauge))

	cancel()
	<-done
}

var _ DepthReader = (*storage.TaskQueue)(nil)
