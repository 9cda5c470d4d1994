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

const characterColumns = `id, hanzi, pinyin, meaning, hsk_level, created_at`

// CharacterRepository handles database operations for the character catalog
type CharacterRepository struct {
	db *sqlx.DB
}

// NewCharacterRepository creates a new repository instance
func NewCharacterRepository(db *sqlx.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// GetByID returns a character by ID
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*models.Character, error) {
	var c models.Character
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT `+characterColumns+` FROM characters WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character by ID: %w", err)
	}
	return &c, nil
}

// GetByHanzi looks a character up by its written form
func (r *CharacterRepository) GetByHanzi(ctx context.Context, hanzi string) (*models.Character, error) {
	var c models.Character
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT `+characterColumns+` FROM characters WHERE hanzi = ?`), hanzi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get character %q: %w", hanzi, err)
	}
	return &c, nil
}

// Exists reports whether a character with the given ID is in the catalog
func (r *CharacterRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM characters WHERE id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to check character: %w", err)
	}
	return count > 0, nil
}

// Count returns the size of the catalog
func (r *CharacterRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM characters`); err != nil {
		return 0, fmt.Errorf("failed to count characters: %w", err)
	}
	return count, nil
}

// Upsert inserts a character or updates the one with the same hanzi.
// It reports whether a new row was created.
func (r *CharacterRepository) Upsert(ctx context.Context, c *models.Character) (bool, error) {
	existing, err := r.GetByHanzi(ctx, c.Hanzi)
	switch {
	case err == nil:
		query := r.db.Rebind(`UPDATE characters SET pinyin = ?, meaning = ?, hsk_level = ? WHERE id = ?`)
		if _, err := r.db.ExecContext(ctx, query, c.Pinyin, c.Meaning, c.HSKLevel, existing.ID); err != nil {
			return false, fmt.Errorf("failed to update character: %w", err)
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	query := r.db.Rebind(`
		INSERT INTO characters (hanzi, pinyin, meaning, hsk_level, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)
	if err := r.db.QueryRowxContext(ctx, query, c.Hanzi, c.Pinyin, c.Meaning, c.HSKLevel, c.CreatedAt).Scan(&c.ID); err != nil {
		return false, fmt.Errorf("failed to create character: %w", err)
	}
	return true, nil
}
