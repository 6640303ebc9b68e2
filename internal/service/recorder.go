package service

import (
	"time"

	"github.com/tao-dividends/internal/types"
)

// Recorder receives read path and trade path measurements
type Recorder interface {
	// ChainQueryCompleted is called once per engine query. err is nil on success.
	ChainQueryCompleted(duration time.Duration, subnets int, err error)
	// SubnetQueryFailed is called for every recovered per-subnet failure
	SubnetQueryFailed(netuid int)
	// JobCompleted is called once per executed sentiment job
	JobCompleted(status types.OutcomeStatus, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ChainQueryCompleted(time.Duration, int, error)   {}
func (nopRecorder) SubnetQueryFailed(int)                           {}
func (nopRecorder) JobCompleted(types.OutcomeStatus, time.Duration) {}
