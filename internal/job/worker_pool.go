// Package job runs background sentiment trade jobs pulled from the task queue.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/models"
	"github.com/tao-dividends/internal/retry"
	"github.com/tao-dividends/internal/storage"
	"github.com/tao-dividends/internal/types"
)

// Defaults for the worker pool
const (
	DefaultWorkers      = 4
	DefaultJobTimeout   = 300 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Submitter enqueues jobs and exposes their outcomes. The read path depends
// only on this, so the queue backend can change without touching callers.
type Submitter interface {
	Submit(ctx context.Context, netuid int, hotkey string) (*types.SentimentJob, error)
	Outcome(ctx context.Context, jobID string) (*types.SentimentOutcome, bool, error)
}

// Queue is the consumer side of the task queue
type Queue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*types.SentimentJob, error)
	StoreOutcome(ctx context.Context, outcome *types.SentimentOutcome) error
}

// Executor runs one job to completion and never fails
type Executor interface {
	Execute(ctx context.Context, job *types.SentimentJob) *types.SentimentOutcome
}

// Archive persists outcomes beyond the result store TTL
type Archive interface {
	Create(ctx context.Context, rec *models.SentimentOutcomeRecord) error
}

// ActivityObserver is told when a job starts and finishes
type ActivityObserver interface {
	Inc()
	Dec()
}

// PoolConfig configures a Pool
type PoolConfig struct {
	Queue        Queue
	Executor     Executor
	Archive      Archive // optional
	Activity     ActivityObserver
	Workers      int
	JobTimeout   time.Duration
	PollInterval time.Duration
	// Backoff applies to dequeue failures and outcome writes
	Backoff *retry.Config
	Logger  *logging.Logger
}

// Pool consumes jobs with a fixed number of goroutines
type Pool struct {
	queue        Queue
	executor     Executor
	archive      Archive
	activity     ActivityObserver
	workers      int
	jobTimeout   time.Duration
	pollInterval time.Duration
	backoff      *retry.Config
	logger       *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed atomic.Int64
	active    atomic.Int64
}

// NewPool creates a worker pool
func NewPool(cfg *PoolConfig) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}

	p := &Pool{
		queue:        cfg.Queue,
		executor:     cfg.Executor,
		archive:      cfg.Archive,
		activity:     cfg.Activity,
		workers:      cfg.Workers,
		jobTimeout:   cfg.JobTimeout,
		pollInterval: cfg.PollInterval,
		backoff:      cfg.Backoff,
		logger:       cfg.Logger,
	}
	if p.workers <= 0 {
		p.workers = DefaultWorkers
	}
	if p.jobTimeout <= 0 {
		p.jobTimeout = DefaultJobTimeout
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.backoff == nil {
		p.backoff = retry.DefaultConfig()
	}
	if p.logger == nil {
		p.logger = logging.GetGlobalLogger()
	}
	p.logger = p.logger.WithField("component", "job_pool")
	return p, nil
}

// Start launches the workers. Jobs already running when Stop is called are
// allowed to finish; they are bounded by the job timeout and by ctx.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pool already started")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(ctx, pollCtx, i)
	}

	p.logger.WithFields(map[string]interface{}{
		"workers":    p.workers,
		"jobTimeout": p.jobTimeout.String(),
	}).Info("job pool started")
	return nil
}

// Stop stops polling and waits for in-flight jobs
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.WithField("processed", p.processed.Load()).Info("job pool stopped")
}

// Processed returns the number of jobs completed since start
func (p *Pool) Processed() int64 {
	return p.processed.Load()
}

// ActiveJobs returns the number of jobs currently executing
func (p *Pool) ActiveJobs() int64 {
	return p.active.Load()
}

func (p *Pool) loop(jobCtx, pollCtx context.Context, worker int) {
	defer p.wg.Done()

	logger := p.logger.WithField("worker", worker)
	backoff := retry.NewBackoff(p.backoff)

	for {
		if pollCtx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(pollCtx, p.pollInterval)
		if err != nil {
			if pollCtx.Err() != nil {
				return
			}
			if errors.Is(err, storage.ErrMalformedJob) {
				logger.WithError(err).Warn("dropping malformed job")
				continue
			}
			delay := backoff.Next()
			logger.WithFields(map[string]interface{}{
				"failures": backoff.Failures(),
				"delay":    delay.String(),
			}).WithError(err).Error("dequeue failed, backing off")
			if retry.Sleep(pollCtx, delay) != nil {
				return
			}
			continue
		}
		backoff.Reset()

		if job == nil {
			continue
		}
		p.process(jobCtx, job, logger)
	}
}

// process executes one job and records its outcome
func (p *Pool) process(ctx context.Context, job *types.SentimentJob, logger *logging.Logger) {
	p.active.Add(1)
	if p.activity != nil {
		p.activity.Inc()
	}
	defer func() {
		p.active.Add(-1)
		if p.activity != nil {
			p.activity.Dec()
		}
		p.processed.Add(1)
	}()

	logger = logger.WithFields(map[string]interface{}{
		"jobId":  job.ID,
		"netuid": job.NetUID,
		"hotkey": job.Hotkey,
	})
	logger.Debug("job started")

	execCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	outcome := p.executor.Execute(execCtx, job)
	cancel()

	outcome.JobID = job.ID
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}

	// Outcome writes outlive the job deadline
	storeCtx := context.WithoutCancel(ctx)
	storeCfg := *p.backoff
	storeCfg.Retryable = apperrors.IsRetryable
	if err := retry.WithRetry(logging.WithLogger(storeCtx, logger), &storeCfg, func(ctx context.Context, _ int) error {
		return p.queue.StoreOutcome(ctx, outcome)
	}); err != nil {
		logger.WithError(err).Error("failed to store job outcome")
	}

	if p.archive != nil {
		if err := p.archive.Create(storeCtx, models.NewSentimentOutcomeRecord(job, outcome)); err != nil {
			logger.WithError(err).Warn("failed to archive job outcome")
		}
	}
}
