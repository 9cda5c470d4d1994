package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/hanzibot/pkg/models"
)

const sentenceColumns = `id, chinese, pinyin, english, created_at`

// SentenceRepository handles database operations for example sentences
type SentenceRepository struct {
	db *sqlx.DB
}

// NewSentenceRepository creates a new repository instance
func NewSentenceRepository(db *sqlx.DB) *SentenceRepository {
	return &SentenceRepository{db: db}
}

// GetByID returns a sentence by ID
func (r *SentenceRepository) GetByID(ctx context.Context, id int64) (*models.Sentence, error) {
	var s models.Sentence
	err := r.db.GetContext(ctx, &s, r.db.Rebind(`SELECT `+sentenceColumns+` FROM sentences WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sentence by ID: %w", err)
	}
	return &s, nil
}

// GetByText looks a sentence up by its Chinese text
func (r *SentenceRepository) GetByText(ctx context.Context, chinese string) (*models.Sentence, error) {
	var s models.Sentence
	err := r.db.GetContext(ctx, &s, r.db.Rebind(`SELECT `+sentenceColumns+` FROM sentences WHERE chinese = ?`), chinese)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sentence: %w", err)
	}
	return &s, nil
}

// Exists reports whether a sentence with the given ID is in the catalog
func (r *SentenceRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM sentences WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to check sentence: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of sentences
func (r *SentenceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM sentences`); err != nil {
		return 0, fmt.Errorf("failed to count sentences: %w", err)
	}
	return count, nil
}

// Upsert inserts a sentence or updates the translation of an existing one.
// It reports whether a new row was created.
func (r *SentenceRepository) Upsert(ctx context.Context, s *models.Sentence) (bool, error) {
	existing, err := r.GetByText(ctx, s.Chinese)
	switch {
	case err == nil:
		query := r.db.Rebind(`UPDATE sentences SET pinyin = ?, english = ? WHERE id = ?`)
		if _, err := r.db.ExecContext(ctx, query, s.Pinyin, s.English, existing.ID); err != nil {
			return false, fmt.Errorf("failed to update sentence: %w", err)
		}
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	query := r.db.Rebind(`
		INSERT INTO sentences (chinese, pinyin, english, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`)
	if err := r.db.QueryRowxContext(ctx, query, s.Chinese, s.Pinyin, s.English, s.CreatedAt).Scan(&s.ID); err != nil {
		return false, fmt.Errorf("failed to create sentence: %w", err)
	}
	return true, nil
}
