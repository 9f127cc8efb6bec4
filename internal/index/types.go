// Package index provides similarity search over tenant document
// collections backed by PostgreSQL with pgvector.
package index

import (
	"errors"
	"fmt"
)

// ErrRetrieval marks a retrieval backend failure. An empty result set
// is not an error; only infrastructure faults wrap this sentinel.
var ErrRetrieval = errors.New("retrieval failed")

// Result is one retrieved chunk. Score is the cosine distance to the
// query embedding, so lower scores rank higher.
type Result struct {
	ChunkID       string         `json:"chunk_id"`
	DocumentID    string         `json:"document_id"`
	DocumentTitle string         `json:"document_title"`
	Content       string         `json:"content"`
	Score         float64        `json:"score"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CollectionName maps a tenant to its collection. Every organization's
// chunks live in a collection named org_<id>.
func CollectionName(orgID int64) string {
	return fmt.Sprintf("org_%d", orgID)
}
