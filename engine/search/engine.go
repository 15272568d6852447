package search

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gustomap/gustomap/engine/domain"
	"github.com/gustomap/gustomap/engine/semantic"
)

// vectorSource is the durable store the index is rebuilt from.
type vectorSource interface {
	ScrollAll(ctx context.Context) ([]semantic.EmbeddingRecord, error)
}

// Service embeds queries and ranks entities against the current index
// snapshot. The snapshot is swapped atomically on rebuild, so queries in
// flight keep the index they started with.
type Service struct {
	embedder semantic.Embedder
	source   vectorSource
	index    atomic.Pointer[Index]
}

// NewService returns a Service with an empty index. source may be nil when
// rebuilds happen only through BuildFromEntities.
func NewService(embedder semantic.Embedder, source vectorSource) *Service {
	s := &Service{embedder: embedder, source: source}
	s.index.Store(NewIndex(nil, nil))
	return s
}

// Index returns the current snapshot.
func (s *Service) Index() *Index { return s.index.Load() }

// Search embeds the query and ranks entities. An empty or whitespace query
// is rejected; an empty index yields empty results, not an error.
func (s *Service) Search(ctx context.Context, query string, agg Aggregation, topK int) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query: %w", domain.ErrInvalidInput)
	}

	vec, err := s.embedder.Embed(ctx, semantic.CleanText(query))
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w: %v", domain.ErrExternalService, err)
	}
	return s.index.Load().Search(vec, agg, topK), nil
}

// BuildFromEntities embeds every review of every entity and swaps in the
// resulting index. Used after an ingest run, when the vectors are already
// in hand locally.
func (s *Service) BuildFromEntities(ctx context.Context, entities []domain.Entity) error {
	var records []semantic.EmbeddingRecord
	for _, e := range entities {
		texts := make([]string, 0, len(e.Reviews))
		for _, r := range e.Reviews {
			if t := semantic.CleanText(r); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) == 0 {
			continue
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("search: embed reviews of %s: %w: %v", e.PlaceID, domain.ErrExternalService, err)
		}
		for i, v := range vecs {
			records = append(records, semantic.EmbeddingRecord{
				EntityID:   e.PlaceID,
				Vector:     v,
				SourceText: texts[i],
			})
		}
	}
	s.index.Store(NewIndex(entities, records))
	return nil
}

// BuildFromStore rebuilds the index from the durable vector store, joining
// against the given entity catalog. This is the recovery path after a
// restart, when no embedding work should be redone.
func (s *Service) BuildFromStore(ctx context.Context, entities []domain.Entity) error {
	if s.source == nil {
		return fmt.Errorf("search: no vector source configured: %w", domain.ErrInvalidConfiguration)
	}
	records, err := s.source.ScrollAll(ctx)
	if err != nil {
		return fmt.Errorf("search: scroll vectors: %w: %v", domain.ErrExternalService, err)
	}
	s.index.Store(NewIndex(entities, records))
	return nil
}
