package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/storage"
	"github.com/tao-dividends/internal/types"
)

const (
	defaultOutcomeListLimit = 20
	maxOutcomeListLimit     = 100
)

// outcomesResponse is the archived outcome listing body
type outcomesResponse struct {
	NetUID   int                       `json:"netuid"`
	Outcomes []*types.SentimentOutcome `json:"outcomes"`
}

// handleGetJob handles GET /api/v1/jobs/{id}. Pending and unknown jobs are both 404.
// Outcomes that expired from the result store are served from the archive when one is configured.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if s.jobs != nil {
		outcome, found, err := s.jobs.Outcome(r.Context(), id)
		if err != nil {
			s.logger.WithField("jobId", id).WithError(err).Error("failed to read job outcome")
			respondCategorized(w, apperrors.NewQueueUnavailableError(err))
			return
		}
		if found {
			respondJSON(w, http.StatusOK, outcome)
			return
		}
	}

	if s.archive == nil {
		respondCategorized(w, apperrors.NewNotFoundError("job", id))
		return
	}

	rec, err := s.archive.GetByJobID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrOutcomeNotFound) {
			respondCategorized(w, apperrors.NewNotFoundError("job", id))
			return
		}
		s.logger.WithField("jobId", id).WithError(err).Error("failed to read archived outcome")
		respondCategorized(w, err)
		return
	}

	respondJSON(w, http.StatusOK, rec.ToOutcome())
}

// handleListOutcomes handles GET /api/v1/outcomes?netuid=N&limit=M, newest first
func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondCategorized(w, apperrors.NewNotFoundError("outcome archive", "disabled"))
		return
	}

	q := r.URL.Query()
	netuid, err := strconv.Atoi(q.Get("netuid"))
	if err != nil || netuid < 0 {
		respondCategorized(w, apperrors.NewInvalidParameterError("netuid", "must be a non-negative integer"))
		return
	}

	limit := defaultOutcomeListLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxOutcomeListLimit {
			respondCategorized(w, apperrors.NewInvalidParameterError("limit", "must be an integer between 1 and 100"))
			return
		}
	}

	records, err := s.archive.ListByNetUID(r.Context(), netuid, limit)
	if err != nil {
		s.logger.WithField("netuid", netuid).WithError(err).Error("failed to list archived outcomes")
		respondCategorized(w, err)
		return
	}

	resp := outcomesResponse{NetUID: netuid, Outcomes: make([]*types.SentimentOutcome, 0, len(records))}
	for _, rec := range records {
		resp.Outcomes = append(resp.Outcomes, rec.ToOutcome())
	}
	respondJSON(w, http.StatusOK, resp)
}
