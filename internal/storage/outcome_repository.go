package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/models"
	"github.com/tao-dividends/internal/types"
)

// ErrOutcomeNotFound indicates no archived outcome exists for a job id
var ErrOutcomeNotFound = errors.New("outcome not found")

// OutcomeRepository archives sentiment job outcomes in Postgres
type OutcomeRepository struct {
	db *PostgresDB
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *PostgresDB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

const outcomeColumns = `
	job_id, status, netuid, hotkey, operation, amount,
	sentiment_score, reason, error, requested_at, completed_at`

// Create inserts an outcome. Outcomes are terminal, so a duplicate job id is ignored.
func (r *OutcomeRepository) Create(ctx context.Context, rec *models.SentimentOutcomeRecord) error {
	query := `
		INSERT INTO sentiment_outcomes (` + outcomeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err := r.db.Pool().Exec(ctx, query,
		rec.JobID,
		rec.Status,
		rec.NetUID,
		rec.Hotkey,
		rec.Operation,
		rec.Amount,
		rec.SentimentScore,
		rec.Reason,
		rec.Error,
		rec.RequestedAt,
		rec.CompletedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("archive outcome", err)
	}

	return nil
}

// GetByJobID retrieves an archived outcome
func (r *OutcomeRepository) GetByJobID(ctx context.Context, jobID string) (*models.SentimentOutcomeRecord, error) {
	query := `SELECT ` + outcomeColumns + ` FROM sentiment_outcomes WHERE job_id = $1`

	rec, err := scanOutcome(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOutcomeNotFound, jobID)
		}
		return nil, apperrors.NewDatabaseError("get outcome", err)
	}
	return rec, nil
}

// ListByNetUID returns the most recent outcomes for a subnet, newest first
func (r *OutcomeRepository) ListByNetUID(ctx context.Context, netuid int, limit int) ([]*models.SentimentOutcomeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + outcomeColumns + `
		FROM sentiment_outcomes
		WHERE netuid = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, netuid, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list outcomes", err)
	}
	defer rows.Close()

	var out []*models.SentimentOutcomeRecord
	for rows.Next() {
		rec, err := scanOutcome(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan outcome", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list outcomes", err)
	}
	return out, nil
}

func scanOutcome(row pgx.Row) (*models.SentimentOutcomeRecord, error) {
	var rec models.SentimentOutcomeRecord
	var status string
	err := row.Scan(
		&rec.JobID,
		&status,
		&rec.NetUID,
		&rec.Hotkey,
		&rec.Operation,
		&rec.Amount,
		&rec.SentimentScore,
		&rec.Reason,
		&rec.Error,
		&rec.RequestedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = types.OutcomeStatus(status)
	return &rec, nil
}
