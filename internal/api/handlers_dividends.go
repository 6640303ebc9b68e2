package api

import (
	"math"
	"net/http"
	"strconv"

	apperrors "github.com/tao-dividends/internal/errors"
	"github.com/tao-dividends/internal/types"
)

// chainRetryAfter is the Retry-After hint, in seconds, while the ledger is unreachable
const chainRetryAfter = "5"

// dividendsResponse is the read endpoint body. netuid is a number or "all".
type dividendsResponse struct {
	Results map[string]types.SubnetDividends `json:"results"`
	NetUID  interface{}                      `json:"netuid"`
	Hotkey  string                           `json:"hotkey"`
	Cached  bool                             `json:"cached"`
	JobID   string                           `json:"jobId,omitempty"`
}

func newDividendsResponse(agg *types.DividendAggregate) dividendsResponse {
	resp := dividendsResponse{
		Results: agg.PerSubnet,
		NetUID:  types.ScopeAll,
		Hotkey:  agg.Scope.HotkeyLabel(),
		Cached:  agg.ServedFromCache,
	}
	if resp.Results == nil {
		resp.Results = map[string]types.SubnetDividends{}
	}
	if agg.Scope.NetUID != nil {
		resp.NetUID = *agg.Scope.NetUID
	}
	return resp
}

// parseDividendsQuery reads netuid, hotkey and trade from the query string
func parseDividendsQuery(r *http.Request) (types.QueryScope, bool, error) {
	q := r.URL.Query()

	var netuid *int
	if raw := q.Get("netuid"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > math.MaxUint16 {
			return types.QueryScope{}, false, apperrors.NewInvalidParameterError("netuid", "must be an integer between 0 and 65535")
		}
		netuid = &n
	}

	var hotkey *string
	if raw := q.Get("hotkey"); raw != "" {
		hotkey = &raw
	}

	trade := false
	if raw := q.Get("trade"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return types.QueryScope{}, false, apperrors.NewInvalidParameterError("trade", "must be a boolean")
		}
		trade = b
	}

	return types.NewQueryScope(netuid, hotkey), trade, nil
}

// handleGetDividends handles GET /api/v1/tao_dividends
func (s *Server) handleGetDividends(w http.ResponseWriter, r *http.Request) {
	scope, trade, err := parseDividendsQuery(r)
	if err != nil {
		respondCategorized(w, err)
		return
	}

	agg, err := s.dividends.Handle(r.Context(), scope)
	if err != nil {
		logger := s.logger.WithFields(map[string]interface{}{
			"netuid": scope.NetUIDLabel(),
			"hotkey": scope.HotkeyLabel(),
		}).WithError(err)
		switch {
		case apperrors.IsChainUnavailable(err):
			w.Header().Set("Retry-After", chainRetryAfter)
			logger.Warn("ledger unavailable")
		case apperrors.IsSystemError(err):
			logger.Error("dividend query failed")
		default:
			logger.Warn("dividend query rejected")
		}
		respondCategorized(w, err)
		return
	}

	resp := newDividendsResponse(agg)
	if trade {
		resp.JobID = s.enqueueTrade(r, scope)
	}

	respondJSON(w, http.StatusOK, resp)
}

// enqueueTrade submits the sentiment trade job for scope and returns its id,
// or "" when nothing was enqueued. Failures never fail the read.
func (s *Server) enqueueTrade(r *http.Request, scope types.QueryScope) string {
	netuid := s.config.DefaultNetUID
	if scope.NetUID != nil {
		netuid = *scope.NetUID
	}
	hotkey := s.config.DefaultHotkey
	if scope.Hotkey != nil {
		hotkey = *scope.Hotkey
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"netuid": netuid,
		"hotkey": hotkey,
	})

	if s.jobs == nil {
		logger.Warn("trade requested but no task queue is configured")
		return ""
	}

	submitted, err := s.jobs.Submit(r.Context(), netuid, hotkey)
	if err != nil {
		logger.WithError(err).Error("failed to enqueue sentiment trade job")
		return ""
	}
	if s.enqueued != nil {
		s.enqueued.Inc()
	}

	logger.WithField("jobId", submitted.ID).Info("sentiment trade job enqueued")
	return submitted.ID
}
