package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tao-dividends/internal/adapter"
	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/types"
)

// AmountPerScorePoint converts one point of sentiment into stake amount
const AmountPerScorePoint = 0.01

// ReasonNoSignal is the outcome reason when no posts were found
const ReasonNoSignal = "No tweets found"

// SignalSource collects post texts for a subnet
type SignalSource interface {
	Collect(ctx context.Context, netuid int) ([]string, error)
}

// Scorer turns texts into a sentiment score
type Scorer interface {
	Score(ctx context.Context, texts []string) (float64, error)
}

// Decide maps a score to a ledger operation and amount.
// Positive scores stake; zero and negative scores unstake.
func Decide(score float64) (types.Operation, float64) {
	amount := math.Abs(score) * AmountPerScorePoint
	if score > 0 {
		return types.OperationStake, amount
	}
	return types.OperationUnstake, amount
}

// TradeDecisionDispatcher runs the sentiment trade pipeline for one job:
// collect signals, score them, decide, and mutate the ledger.
type TradeDecisionDispatcher struct {
	signals  SignalSource
	scorer   Scorer
	ledger   adapter.Ledger
	recorder Recorder
	logger   *logging.Logger
	now      func() time.Time
}

// NewTradeDecisionDispatcher creates a dispatcher
func NewTradeDecisionDispatcher(signals SignalSource, scorer Scorer, ledger adapter.Ledger, recorder Recorder, logger *logging.Logger) *TradeDecisionDispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &TradeDecisionDispatcher{
		signals:  signals,
		scorer:   scorer,
		ledger:   ledger,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute runs job to completion and always returns an outcome.
// Failures, panics included, are reported as status error.
func (d *TradeDecisionDispatcher) Execute(ctx context.Context, job *types.SentimentJob) (outcome *types.SentimentOutcome) {
	if job == nil {
		job = &types.SentimentJob{}
	}
	start := d.now()
	logger := d.logger.WithFields(map[string]interface{}{
		"jobId":  job.ID,
		"netuid": job.NetUID,
		"hotkey": job.Hotkey,
	})

	defer func() {
		if r := recover(); r != nil {
			outcome = d.failed(job, fmt.Errorf("panic: %v", r))
		}
		outcome.CompletedAt = d.now()
		d.recorder.JobCompleted(outcome.Status, outcome.CompletedAt.Sub(start))

		entry := logger.WithField("status", string(outcome.Status))
		if outcome.Status == types.OutcomeError {
			entry.WithField("error", *outcome.ErrorDetail).Error("sentiment trade job failed")
		} else {
			entry.Info("sentiment trade job completed")
		}
	}()

	return d.run(ctx, job, logger)
}

func (d *TradeDecisionDispatcher) run(ctx context.Context, job *types.SentimentJob, logger *logging.Logger) *types.SentimentOutcome {
	texts, err := d.signals.Collect(ctx, job.NetUID)
	if err != nil {
		return d.failed(job, err)
	}
	if len(texts) == 0 {
		return &types.SentimentOutcome{
			JobID:  job.ID,
			Status: types.OutcomeNoData,
			NetUID: job.NetUID,
			Hotkey: job.Hotkey,
			Reason: ReasonNoSignal,
		}
	}

	score, err := d.scorer.Score(ctx, texts)
	if err != nil {
		return d.failed(job, err)
	}

	op, amount := Decide(score)
	logger.WithFields(map[string]interface{}{
		"posts":     len(texts),
		"score":     score,
		"operation": string(op),
		"amount":    amount,
	}).Info("sentiment trade decided")

	if err := d.apply(ctx, op, amount, job); err != nil {
		out := d.failed(job, err)
		out.Operation = &op
		out.Amount = &amount
		out.SentimentScore = &score
		return out
	}

	return &types.SentimentOutcome{
		JobID:          job.ID,
		Status:         types.OutcomeSuccess,
		NetUID:         job.NetUID,
		Hotkey:         job.Hotkey,
		Operation:      &op,
		Amount:         &amount,
		SentimentScore: &score,
	}
}

// apply issues the ledger mutation on a dedicated session
func (d *TradeDecisionDispatcher) apply(ctx context.Context, op types.Operation, amount float64, job *types.SentimentJob) error {
	session, err := d.ledger.Open(ctx)
	if err != nil {
		return fmt.Errorf("open ledger session: %w", err)
	}
	defer session.Close()

	switch op {
	case types.OperationStake:
		return session.Stake(ctx, amount, job.Hotkey, job.NetUID)
	default:
		return session.Unstake(ctx, amount, job.Hotkey, job.NetUID)
	}
}

func (d *TradeDecisionDispatcher) failed(job *types.SentimentJob, err error) *types.SentimentOutcome {
	detail := err.Error()
	return &types.SentimentOutcome{
		JobID:       job.ID,
		Status:      types.OutcomeError,
		NetUID:      job.NetUID,
		Hotkey:      job.Hotkey,
		ErrorDetail: &detail,
	}
}
