package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ragcore/ragcore/internal/log"
)

// defaultSearchTimeout bounds a single similarity search, embedding
// generation included.
const defaultSearchTimeout = 10 * time.Second

// Querier defines the database operations Store needs. The interface
// lives with its consumer so tests can substitute a mock.
type Querier interface {
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]ChunkRow, error)
	CountChunks(ctx context.Context, collection string) (int64, error)
}

// SearchChunksParams carries one similarity search.
type SearchChunksParams struct {
	Collection     string
	QueryEmbedding []float32
	FilterMetadata []byte // JSONB containment filter, nil for none
	ResultLimit    int
}

// ChunkRow is one raw search hit.
type ChunkRow struct {
	ID            string
	DocumentID    string
	DocumentTitle string
	Content       string
	Metadata      []byte
	Score         float64
}

// Store performs tenant-scoped similarity search. It is safe for
// concurrent use.
type Store struct {
	queries  Querier
	embedder Embedder
	timeout  time.Duration
	logger   log.Logger
}

// NewStore creates a Store. A nil logger discards output.
func NewStore(querier Querier, embedder Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		timeout:  defaultSearchTimeout,
		logger:   logger,
	}
}

// Search embeds query and returns up to limit chunks from the
// organization's collection, most relevant first. A tenant with no
// indexed documents yields an empty slice, not an error. Backend
// faults wrap ErrRetrieval.
func (s *Store) Search(ctx context.Context, orgID int64, query string, filter map[string]string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrRetrieval, limit)
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	embedding, err := s.embedder.Embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrieval, err)
	}

	var filterJSON []byte
	if len(filter) > 0 {
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal filter: %w", ErrRetrieval, err)
		}
	}

	rows, err := s.queries.SearchChunks(queryCtx, SearchChunksParams{
		Collection:     CollectionName(orgID),
		QueryEmbedding: embedding,
		FilterMetadata: filterJSON,
		ResultLimit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		r := Result{
			ChunkID:       row.ID,
			DocumentID:    row.DocumentID,
			DocumentTitle: row.DocumentTitle,
			Content:       row.Content,
			Score:         row.Score,
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &r.Metadata); err != nil {
				s.logger.Warn("skipping unreadable chunk metadata", "chunk_id", row.ID, "error", err)
			}
		}
		results = append(results, r)
	}

	s.logger.Debug("similarity search completed",
		"collection", CollectionName(orgID),
		"results", len(results),
	)
	return results, nil
}

// Count returns the number of chunks in an organization's collection.
func (s *Store) Count(ctx context.Context, orgID int64) (int, error) {
	count, err := s.queries.CountChunks(ctx, CollectionName(orgID))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	return int(count), nil
}
