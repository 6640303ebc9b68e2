package models

import (
	"time"

	"github.com/tao-dividends/internal/types"
)

// SentimentOutcomeRecord represents an archived sentiment job outcome (one row per job)
type SentimentOutcomeRecord struct {
	JobID          string              `json:"jobId" db:"job_id"`
	Status         types.OutcomeStatus `json:"status" db:"status"` // success, no_data, error
	NetUID         int                 `json:"netuid" db:"netuid"`
	Hotkey         string              `json:"hotkey" db:"hotkey"`
	Operation      *string             `json:"operation,omitempty" db:"operation"`
	Amount         *float64            `json:"amount,omitempty" db:"amount"`
	SentimentScore *float64            `json:"sentimentScore,omitempty" db:"sentiment_score"`
	Reason         *string             `json:"reason,omitempty" db:"reason"`
	Error          *string             `json:"error,omitempty" db:"error"`
	RequestedAt    time.Time           `json:"requestedAt" db:"requested_at"`
	CompletedAt    time.Time           `json:"completedAt" db:"completed_at"`
}

// NewSentimentOutcomeRecord converts a job outcome into its archive row
func NewSentimentOutcomeRecord(job *types.SentimentJob, outcome *types.SentimentOutcome) *SentimentOutcomeRecord {
	rec := &SentimentOutcomeRecord{
		JobID:          outcome.JobID,
		Status:         outcome.Status,
		NetUID:         outcome.NetUID,
		Hotkey:         outcome.Hotkey,
		Amount:         outcome.Amount,
		SentimentScore: outcome.SentimentScore,
		Error:          outcome.ErrorDetail,
		CompletedAt:    outcome.CompletedAt,
	}
	if job != nil {
		rec.RequestedAt = job.RequestedAt
	}
	if outcome.Operation != nil {
		op := string(*outcome.Operation)
		rec.Operation = &op
	}
	if outcome.Reason != "" {
		reason := outcome.Reason
		rec.Reason = &reason
	}
	return rec
}

// ToOutcome converts the archive row back into a job outcome
func (r *SentimentOutcomeRecord) ToOutcome() *types.SentimentOutcome {
	out := &types.SentimentOutcome{
		JobID:          r.JobID,
		Status:         r.Status,
		NetUID:         r.NetUID,
		Hotkey:         r.Hotkey,
		Amount:         r.Amount,
		SentimentScore: r.SentimentScore,
		ErrorDetail:    r.Error,
		CompletedAt:    r.CompletedAt,
	}
	if r.Operation != nil {
		op := types.Operation(*r.Operation)
		out.Operation = &op
	}
	if r.Reason != nil {
		out.Reason = *r.Reason
	}
	return out
}
