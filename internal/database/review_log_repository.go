package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/example/hanzibot/pkg/models"
)

// ReviewLogRepository handles the append-only review history
type ReviewLogRepository struct {
	db *sqlx.DB
}

// NewReviewLogRepository creates a new repository instance
func NewReviewLogRepository(db *sqlx.DB) *ReviewLogRepository {
	return &ReviewLogRepository{db: db}
}

// ListByItem returns the history of one item in the order it was written
func (r *ReviewLogRepository) ListByItem(ctx context.Context, key models.ItemKey) ([]models.ReviewLog, error) {
	query := r.db.Rebind(`
		SELECT id, event, user_id, item_kind, item_id, quality, easiness_before, easiness_after,
			repetitions_after, interval_after, reviewed_at
		FROM review_logs
		WHERE user_id = ? AND item_kind = ? AND item_id = ?
		ORDER BY seq ASC
	`)
	logs := []models.ReviewLog{}
	if err := r.db.SelectContext(ctx, &logs, query, key.UserID, key.Kind, key.ItemID); err != nil {
		return nil, fmt.Errorf("failed to get review history: %w", err)
	}
	return logs, nil
}

func insertLog(ctx context.Context, ext sqlx.ExtContext, entry *models.ReviewLog) error {
	if entry.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate log id: %w", err)
		}
		entry.ID = id
	}
	if entry.Event == "" {
		entry.Event = models.EventReview
	}
	query := ext.Rebind(`
		INSERT INTO review_logs (
			id, event, user_id, item_kind, item_id, quality, easiness_before, easiness_after,
			repetitions_after, interval_after, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := ext.ExecContext(ctx, query,
		entry.ID,
		entry.Event,
		entry.UserID,
		entry.Kind,
		entry.ItemID,
		entry.Quality,
		entry.EasinessBefore,
		entry.EasinessAfter,
		entry.RepetitionsAfter,
		entry.IntervalAfter,
		entry.ReviewedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save review log: %w", err)
	}
	return nil
}
