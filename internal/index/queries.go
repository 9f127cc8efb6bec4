package index

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// DB is the subset of pgxpool.Pool the queries need.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier over PostgreSQL with pgvector.
type Queries struct {
	db DB
}

var _ Querier = (*Queries)(nil)

// NewQueries wraps a database handle, typically a pgxpool.Pool.
func NewQueries(db DB) *Queries {
	return &Queries{db: db}
}

const searchChunksSQL = `
SELECT id, document_id, document_title, content, metadata,
       embedding <=> $2 AS score
FROM chunks
WHERE collection = $1
  AND ($3::jsonb IS NULL OR metadata @> $3)
ORDER BY embedding <=> $2
LIMIT $4`

// SearchChunks runs a cosine distance search within one collection.
func (q *Queries) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]ChunkRow, error) {
	vec := pgvector.NewVector(arg.QueryEmbedding)

	rows, err := q.db.Query(ctx, searchChunksSQL,
		arg.Collection, vec, arg.FilterMetadata, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var row ChunkRow
		if err := rows.Scan(&row.ID, &row.DocumentID, &row.DocumentTitle,
			&row.Content, &row.Metadata, &row.Score); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const countChunksSQL = `SELECT count(*) FROM chunks WHERE collection = $1`

// CountChunks returns the chunk count for one collection.
func (q *Queries) CountChunks(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countChunksSQL, collection).Scan(&count)
	return count, err
}
