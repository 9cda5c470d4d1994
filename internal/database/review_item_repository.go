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

const reviewItemColumns = `id, user_id, item_kind, item_id, easiness_factor, repetitions, interval_days,
	learning, first_seen_date, last_review_date, next_review_date, seen_context, version,
	created_at, updated_at`

// ReviewItemRepository handles database operations for review items
type ReviewItemRepository struct {
	db *sqlx.DB
}

// NewReviewItemRepository creates a new repository instance
func NewReviewItemRepository(db *sqlx.DB) *ReviewItemRepository {
	return &ReviewItemRepository{db: db}
}

// GetItem returns the review item of a user for one character or sentence
func (r *ReviewItemRepository) GetItem(ctx context.Context, key models.ItemKey) (*models.ReviewableItem, error) {
	var item models.ReviewableItem
	query := r.db.Rebind(`SELECT ` + reviewItemColumns + ` FROM review_items
		WHERE user_id = ? AND item_kind = ? AND item_id = ?`)
	err := r.db.GetContext(ctx, &item, query, key.UserID, key.Kind, key.ItemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review item: %w", err)
	}
	return &item, nil
}

// CreateItem inserts a new review item with version 1.
// ErrConflict is returned when a row for the same key already exists.
func (r *ReviewItemRepository) CreateItem(ctx context.Context, item *models.ReviewableItem) error {
	now := time.Now().UTC()
	query := r.db.Rebind(`
		INSERT INTO review_items (
			user_id, item_kind, item_id, easiness_factor, repetitions, interval_days, learning,
			first_seen_date, last_review_date, next_review_date, seen_context, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (user_id, item_kind, item_id) DO NOTHING
		RETURNING id
	`)
	err := r.db.QueryRowxContext(ctx, query,
		item.UserID,
		item.Kind,
		item.ItemID,
		item.EasinessFactor,
		item.Repetitions,
		item.Interval,
		item.Learning,
		utcPtr(item.FirstSeenDate),
		utcPtr(item.LastReviewDate),
		utcPtr(item.NextReviewDate),
		item.SeenContext,
		now,
		now,
	).Scan(&item.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create review item: %w", err)
	}
	item.Version = 1
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// PutItem writes item back if nobody changed it since it was read.
// The stored version must equal item.Version; on success item.Version is incremented.
func (r *ReviewItemRepository) PutItem(ctx context.Context, item *models.ReviewableItem) error {
	return r.update(ctx, r.db, item)
}

// CommitReview stores the new item state and its log entry in one transaction.
// Nothing is written when the version check fails.
func (r *ReviewItemRepository) CommitReview(ctx context.Context, item *models.ReviewableItem, entry *models.ReviewLog) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	staged := *item
	if err := r.update(ctx, tx, &staged); err != nil {
		return err
	}
	if err := insertLog(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review: %w", err)
	}
	*item = staged
	return nil
}

func (r *ReviewItemRepository) update(ctx context.Context, ext sqlx.ExtContext, item *models.ReviewableItem) error {
	now := time.Now().UTC()
	query := ext.Rebind(`
		UPDATE review_items SET
			easiness_factor = ?,
			repetitions = ?,
			interval_days = ?,
			learning = ?,
			first_seen_date = ?,
			last_review_date = ?,
			next_review_date = ?,
			seen_context = ?,
			version = version + 1,
			updated_at = ?
		WHERE user_id = ? AND item_kind = ? AND item_id = ? AND version = ?
	`)
	result, err := ext.ExecContext(ctx, query,
		item.EasinessFactor,
		item.Repetitions,
		item.Interval,
		item.Learning,
		utcPtr(item.FirstSeenDate),
		utcPtr(item.LastReviewDate),
		utcPtr(item.NextReviewDate),
		item.SeenContext,
		now,
		item.UserID,
		item.Kind,
		item.ItemID,
		item.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update review item: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	item.Version++
	item.UpdatedAt = now
	return nil
}

// QueryDue returns learning items whose next review date is at or before now, most overdue first
func (r *ReviewItemRepository) QueryDue(ctx context.Context, userID int64, kind models.ItemKind, now time.Time) ([]models.ReviewableItem, error) {
	query := r.db.Rebind(`SELECT ` + reviewItemColumns + ` FROM review_items
		WHERE user_id = ? AND item_kind = ? AND learning = ?
		AND next_review_date IS NOT NULL AND next_review_date <= ?
		ORDER BY next_review_date ASC, item_id ASC`)
	items := []models.ReviewableItem{}
	if err := r.db.SelectContext(ctx, &items, query, userID, kind, true, now.UTC()); err != nil {
		return nil, fmt.Errorf("failed to get due items: %w", err)
	}
	return items, nil
}

// QueryUnscheduled returns learning items that have never been graded. limit <= 0 returns all.
func (r *ReviewItemRepository) QueryUnscheduled(ctx context.Context, userID int64, kind models.ItemKind, limit int) ([]models.ReviewableItem, error) {
	query := `SELECT ` + reviewItemColumns + ` FROM review_items
		WHERE user_id = ? AND item_kind = ? AND learning = ? AND next_review_date IS NULL
		ORDER BY item_id ASC`
	args := []interface{}{userID, kind, true}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	items := []models.ReviewableItem{}
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get unscheduled items: %w", err)
	}
	return items, nil
}

// ListByUser returns all review items of a user. An empty kind lists both kinds.
func (r *ReviewItemRepository) ListByUser(ctx context.Context, userID int64, kind models.ItemKind) ([]models.ReviewableItem, error) {
	query := `SELECT ` + reviewItemColumns + ` FROM review_items WHERE user_id = ?`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND item_kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY item_kind, item_id`
	items := []models.ReviewableItem{}
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	return items, nil
}

// CountDue returns how many items of any kind are due for a user at now
func (r *ReviewItemRepository) CountDue(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int
	query := r.db.Rebind(`SELECT COUNT(*) FROM review_items
		WHERE user_id = ? AND learning = ?
		AND next_review_date IS NOT NULL AND next_review_date <= ?`)
	if err := r.db.GetContext(ctx, &count, query, userID, true, now.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count due items: %w", err)
	}
	return count, nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
