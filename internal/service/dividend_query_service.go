package service

import (
	"context"
	"time"

	"github.com/tao-dividends/internal/logging"
	"github.com/tao-dividends/internal/types"
)

// DividendCacher is the cache-aside store used by the read path.
// Implementations must treat every failure as a miss or a no-op.
type DividendCacher interface {
	Get(ctx context.Context, key string) (*types.DividendAggregate, bool)
	SetWithTTL(ctx context.Context, key string, agg *types.DividendAggregate, ttl time.Duration)
}

// DividendQuerier computes a fresh aggregate from the ledger
type DividendQuerier interface {
	Query(ctx context.Context, scope types.QueryScope) (*types.DividendAggregate, error)
}

// DividendQueryService serves dividend reads: cache first, then the ledger.
// Concurrent misses for the same scope each query the ledger; no request
// coalescing is done.
type DividendQueryService struct {
	cache  DividendCacher
	engine DividendQuerier
	ttl    time.Duration
	logger *logging.Logger
}

// NewDividendQueryService creates the read path orchestrator.
// A nil cache disables caching entirely.
func NewDividendQueryService(cache DividendCacher, engine DividendQuerier, ttl time.Duration, logger *logging.Logger) *DividendQueryService {
	if ttl <= 0 {
		ttl = 120 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &DividendQueryService{
		cache:  cache,
		engine: engine,
		ttl:    ttl,
		logger: logger,
	}
}

// Handle returns the aggregate for scope. Only a ledger connection failure is
// returned as an error; cache problems degrade to a fresh query.
func (s *DividendQueryService) Handle(ctx context.Context, scope types.QueryScope) (*types.DividendAggregate, error) {
	key := scope.CacheKey()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			cached.ServedFromCache = true
			s.logger.WithField("key", key).Debug("dividends served from cache")
			return cached, nil
		}
	}

	fresh, err := s.engine.Query(ctx, scope)
	if err != nil {
		return nil, err
	}
	fresh.ServedFromCache = false

	if s.cache != nil {
		s.cache.SetWithTTL(ctx, key, fresh, s.ttl)
	}
	return fresh, nil
}
