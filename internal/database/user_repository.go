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

const userColumns = `id, telegram_id, username, notification_enabled, notification_hour, daily_limit, created_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new repository instance
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return &user, nil
}

// GetByTelegramID returns the user registered from a Telegram chat
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`), telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by telegram ID: %w", err)
	}
	return &user, nil
}

// Create inserts a new user and fills in the generated ID
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	query := r.db.Rebind(`
		INSERT INTO users (telegram_id, username, notification_enabled, notification_hour, daily_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := r.db.QueryRowxContext(ctx, query,
		user.TelegramID,
		user.Username,
		user.NotificationEnabled,
		user.NotificationHour,
		user.DailyLimit,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetOrCreateByTelegramID returns the user for a chat, registering it on first contact
func (r *UserRepository) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username string) (*models.User, bool, error) {
	user, err := r.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	tid := telegramID
	user = &models.User{
		TelegramID:          &tid,
		Username:            username,
		NotificationEnabled: true,
		NotificationHour:    9,
		DailyLimit:          20,
	}
	if err := r.Create(ctx, user); err != nil {
		// Another update from the same chat may have registered it first
		if existing, getErr := r.GetByTelegramID(ctx, telegramID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return user, true, nil
}

// UpdateNotification changes the reminder settings of a user
func (r *UserRepository) UpdateNotification(ctx context.Context, userID int64, enabled bool, hour int) error {
	query := r.db.Rebind(`UPDATE users SET notification_enabled = ?, notification_hour = ? WHERE id = ?`)
	result, err := r.db.ExecContext(ctx, query, enabled, hour, userID)
	if err != nil {
		return fmt.Errorf("failed to update notification settings: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUsersForNotification returns Telegram users with reminders enabled at the given hour
func (r *UserRepository) GetUsersForNotification(ctx context.Context, hour int) ([]models.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users
		WHERE notification_enabled = ? AND notification_hour = ? AND telegram_id IS NOT NULL
		ORDER BY id`)
	users := []models.User{}
	if err := r.db.SelectContext(ctx, &users, query, true, hour); err != nil {
		return nil, fmt.Errorf("failed to get users for notification: %w", err)
	}
	return users, nil
}
