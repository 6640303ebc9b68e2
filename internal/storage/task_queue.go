package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/types"
)

const (
	queueKeyPrefix   = "queue:"
	outcomeKeyPrefix = "outcome:"

	// DefaultResultTTL is how long job outcomes are retained
	DefaultResultTTL = 24 * time.Hour
)

var (
	// ErrMalformedJob indicates a queue payload that could not be decoded
	ErrMalformedJob = errors.New("malformed job payload")

	// ErrOutcomeExists indicates a second write of a job's terminal outcome
	ErrOutcomeExists = errors.New("outcome already stored")
)

// TaskQueue is a Redis list backed job queue with a keyed result store
type TaskQueue struct {
	redis     *RedisCache
	queueKey  string
	resultTTL time.Duration
}

// jobEnvelope is the queue wire format
type jobEnvelope struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Args        jobArgs   `json:"args"`
	RequestedAt time.Time `json:"requestedAt"`
}

type jobArgs struct {
	NetUID int    `json:"netuid"`
	Hotkey string `json:"hotkey"`
}

// NewTaskQueue creates a queue for the sentiment trade job
func NewTaskQueue(rc *RedisCache, resultTTL time.Duration) *TaskQueue {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &TaskQueue{
		redis:     rc,
		queueKey:  queueKeyPrefix + types.JobNameAnalyzeSentiment,
		resultTTL: resultTTL,
	}
}

// QueueKey returns the Redis list key jobs are pushed to
func (q *TaskQueue) QueueKey() string {
	return q.queueKey
}

// Submit enqueues an analyze_sentiment_and_trade job and returns it
func (q *TaskQueue) Submit(ctx context.Context, netuid int, hotkey string) (*types.SentimentJob, error) {
	job := &types.SentimentJob{
		ID:          uuid.New().String(),
		Name:        types.JobNameAnalyzeSentiment,
		NetUID:      netuid,
		Hotkey:      hotkey,
		RequestedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(jobEnvelope{
		ID:          job.ID,
		Name:        job.Name,
		Args:        jobArgs{NetUID: netuid, Hotkey: hotkey},
		RequestedAt: job.RequestedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	if err := q.redis.Client().LPush(ctx, q.queueKey, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Dequeue blocks up to timeout for the next job. Returns (nil, nil) when the wait times out.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*types.SentimentJob, error) {
	res, err := q.redis.Client().BRPop(ctx, timeout, q.queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// res is [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected BRPOP reply of %d elements", ErrMalformedJob, len(res))
	}

	var env jobEnvelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if env.ID == "" || env.Name != types.JobNameAnalyzeSentiment {
		return nil, fmt.Errorf("%w: id=%q name=%q", ErrMalformedJob, env.ID, env.Name)
	}

	return &types.SentimentJob{
		ID:          env.ID,
		Name:        env.Name,
		NetUID:      env.Args.NetUID,
		Hotkey:      env.Args.Hotkey,
		RequestedAt: env.RequestedAt,
	}, nil
}

// Depth returns the number of jobs waiting
func (q *TaskQueue) Depth(ctx context.Context) (int64, error) {
	return q.redis.Client().LLen(ctx, q.queueKey).Result()
}

// StoreOutcome writes the terminal outcome of a job. Outcomes are written once.
// Redis failures are returned as retryable QueueUnavailable errors.
func (q *TaskQueue) StoreOutcome(ctx context.Context, outcome *types.SentimentOutcome) error {
	if outcome == nil || outcome.JobID == "" {
		return fmt.Errorf("outcome requires a job id")
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}

	ok, err := q.redis.Client().SetNX(ctx, outcomeKeyPrefix+outcome.JobID, data, q.resultTTL).Result()
	if err != nil {
		return apperrors.NewQueueUnavailableError(fmt.Errorf("store outcome: %w", err))
	}
	if !ok {
		return fmt.Errorf("%w: job %s", ErrOutcomeExists, outcome.JobID)
	}
	return nil
}

// Outcome returns the stored outcome for a job, or (nil, false, nil) when none exists yet
func (q *TaskQueue) Outcome(ctx context.Context, jobID string) (*types.SentimentOutcome, bool, error) {
	data, err := q.redis.Get(ctx, outcomeKeyPrefix+jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read outcome: %w", err)
	}

	var outcome types.SentimentOutcome
	if err := json.Unmarshal([]byte(data), &outcome); err != nil {
		return nil, false, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return &outcome, true, nil
}
