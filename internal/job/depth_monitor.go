package job

import (
	"context"
	"time"

	"github.com/tao-dividends/internal/logging"
)

// DefaultDepthInterval is how often the queue depth is sampled
const DefaultDepthInterval = 15 * time.Second

// DepthReader reports how many jobs are waiting
type DepthReader interface {
	Depth(ctx context.Context) (int64, error)
}

// DepthGauge receives sampled queue depths. prometheus.Gauge satisfies it.
type DepthGauge interface {
	Set(float64)
}

// MonitorDepth samples the queue depth into gauge every interval until ctx is done.
// A failed sample leaves the gauge at its last value.
func MonitorDepth(ctx context.Context, queue DepthReader, gauge DepthGauge, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		interval = DefaultDepthInterval
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	sample := func() {
		sampleCtx, cancel := context.WithTimeout(ctx, interval)
		depth, err := queue.Depth(sampleCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).Warn("failed to sample queue depth")
			}
			return
		}
		gauge.Set(float64(depth))
	}

	sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}
