package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"serenity-backend/internal/models"
)

type DocumentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

func (r *DocumentRepo) Create(ctx context.Context, d *models.Document) error {
	d.ID = uuid.New()
	d.Status = "pending"

	query := `INSERT INTO documents (id, user_id, title, file_path, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		d.ID, d.UserID, d.Title, d.FilePath, d.Status,
	).Scan(&d.CreatedAt)
}

func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	d := &models.Document{}
	query := `SELECT id, user_id, title, file_path, status, chunk_count, created_at, indexed_at
		FROM documents WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.UserID, &d.Title, &d.FilePath, &d.Status,
		&d.ChunkCount, &d.CreatedAt, &d.IndexedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepo) List(ctx context.Context, userID uuid.UUID) ([]models.Document, error) {
	query := `SELECT id, user_id, title, file_path, status, chunk_count, created_at, indexed_at
		FROM documents WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.Title, &d.FilePath, &d.Status,
			&d.ChunkCount, &d.CreatedAt, &d.IndexedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, "UPDATE documents SET status = $1 WHERE id = $2", status, id)
	return err
}

func (r *DocumentRepo) MarkIndexed(ctx context.Context, id uuid.UUID, chunkCount int) error {
	now := time.Now()
	_, err := r.pool.Exec(ctx,
		"UPDATE documents SET status = 'indexed', chunk_count = $1, indexed_at = $2 WHERE id = $3",
		chunkCount, now, id,
	)
	return err
}
