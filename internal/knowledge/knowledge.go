// Package knowledge retrieves knowledge-base snippets that ground AI replies.
// Ingestion and indexing happen elsewhere; this package only reads.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Snippet is one retrieved passage.
type Snippet struct {
	ID      string  `json:"id"`
	Source  string  `json:"source,omitempty"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher finds the snippets most relevant to query, best first.
type Searcher interface {
	Search(ctx context.Context, tenantID, query string, k int) ([]Snippet, error)
}

// Nop is a Searcher that never finds anything.
type Nop struct{}

func (Nop) Search(context.Context, string, string, int) ([]Snippet, error) { return nil, nil }

// PostgresSearcher ranks the knowledge_chunks table with Postgres full-text search.
type PostgresSearcher struct {
	db *sql.DB
}

// NewPostgresSearcher creates a PostgresSearcher over db.
func NewPostgresSearcher(db *sql.DB) *PostgresSearcher {
	return &PostgresSearcher{db: db}
}

func (s *PostgresSearcher) Search(ctx context.Context, tenantID, query string, k int) ([]Snippet, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, title, content, ts_rank(tsv, q) AS score
		FROM knowledge_chunks, websearch_to_tsquery('english', $2) q
		WHERE tenant_id = $1 AND tsv @@ q
		ORDER BY score DESC
		LIMIT $3`, tenantID, query, k)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	out := make([]Snippet, 0, k)
	for rows.Next() {
		var sn Snippet
		if err := rows.Scan(&sn.ID, &sn.Source, &sn.Title, &sn.Content, &sn.Score); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}
