package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scanner"
)

// StrategySource implements ContentSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.ContentSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
		now:      time.Now,
	}
}

// FetchTop queries configured sources in order and returns one deduplicated
// batch of at most req.MaxItems items. Any failing source fails the fetch.
func (s *StrategySource) FetchTop(ctx context.Context, req ports.FetchRequest) (domain.ContentBatch, error) {
	if s.registry == nil {
		return domain.ContentBatch{}, &domain.ContentFetchError{Err: fmt.Errorf("scanner registry is not configured")}
	}
	if len(s.sources) == 0 {
		return domain.ContentBatch{}, &domain.ContentFetchError{Err: fmt.Errorf("no content sources configured")}
	}

	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = domain.DefaultNewsCount
	}

	s.debug("fetch top", "sources", len(s.sources), "max_items", maxItems, "language", req.Language)

	var aggregated []domain.ContentItem
	seen := map[string]struct{}{}
	for _, src := range s.sources {
		if len(aggregated) >= maxItems {
			break
		}

		strategy, err := s.registry.Resolve(src.Strategy)
		if err != nil {
			return domain.ContentBatch{}, &domain.ContentFetchError{Source: src.Name, Err: err}
		}

		results, err := strategy.Scan(ctx, scanner.Request{
			Day:        req.Day,
			SourceName: src.Name,
			URL:        src.URL,
			APIKey:     src.APIKey,
			Language:   req.Language,
			MaxItems:   maxItems - len(aggregated),
			Options:    src.Options,
		})
		if err != nil {
			return domain.ContentBatch{}, &domain.ContentFetchError{Source: src.Name, Err: err}
		}

		for _, item := range results {
			if strings.TrimSpace(item.Title) == "" {
				continue
			}
			key := strings.TrimSpace(item.URL)
			if key == "" {
				key = item.Title
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if item.Source == "" {
				item.Source = src.Name
			}
			aggregated = append(aggregated, item)
		}
		s.debug("source produced items", "source", src.Name, "count", len(results))
	}

	if len(aggregated) > maxItems {
		aggregated = aggregated[:maxItems]
	}

	s.debug("strategy source done", "total_items", len(aggregated))
	return domain.NewContentBatch(aggregated, s.now()), nil
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
