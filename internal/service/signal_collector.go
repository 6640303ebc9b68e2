package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/tao-dividends/internal/adapter"
	apperrors "github.com/tao-dividends/internal/errors"
)

// DefaultSignalLimit is the number of posts requested per collection
const DefaultSignalLimit = 20

// signalQueryTemplate is the search query for a subnet
const signalQueryTemplate = "Bittensor netuid %d"

// PostSearcher is the social search capability
type PostSearcher interface {
	Search(ctx context.Context, req adapter.SearchRequest) ([]adapter.Post, error)
}

// SignalCollector gathers social posts about a subnet
type SignalCollector struct {
	searcher PostSearcher
	limit    int
}

// NewSignalCollector creates a collector requesting up to limit posts
func NewSignalCollector(searcher PostSearcher, limit int) *SignalCollector {
	if limit <= 0 {
		limit = DefaultSignalLimit
	}
	return &SignalCollector{searcher: searcher, limit: limit}
}

// Collect returns the non-empty post texts found for netuid.
// Upstream failures are returned as a SignalSourceError and are not retried.
func (c *SignalCollector) Collect(ctx context.Context, netuid int) ([]string, error) {
	req := adapter.NewSearchRequest(fmt.Sprintf(signalQueryTemplate, netuid), c.limit)

	posts, err := c.searcher.Search(ctx, req)
	if err != nil {
		return nil, apperrors.NewSignalSourceError(err)
	}

	texts := make([]string, 0, len(posts))
	for _, p := range posts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		texts = append(texts, p.Text)
	}
	return texts, nil
}
