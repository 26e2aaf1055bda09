package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"serenity-backend/internal/models"
)

// SnippetRepo runs nearest-neighbour searches over the chunks table and
// inserts new chunks during indexing.
type SnippetRepo struct {
	pool *pgxpool.Pool
}

func NewSnippetRepo(pool *pgxpool.Pool) *SnippetRepo {
	return &SnippetRepo{pool: pool}
}

// Search returns the topK chunks closest to the query embedding by cosine
// distance, best match first.
func (r *SnippetRepo) Search(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedSnippet, error) {
	query := `SELECT content, 1 - (embedding <=> $1) AS score
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer rows.Close()

	var snippets []models.RetrievedSnippet
	for rows.Next() {
		var s models.RetrievedSnippet
		if err := rows.Scan(&s.Text, &s.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return snippets, nil
}

// InsertChunk stores one embedded chunk for a document.
func (r *SnippetRepo) InsertChunk(ctx context.Context, documentID uuid.UUID, index int, content string, embedding []float32) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), documentID, index, content, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// DeleteByDocument removes all chunks of a document before re-indexing.
func (r *SnippetRepo) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID)
	return err
}
