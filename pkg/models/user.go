package models

import "time"

// User represents a learner. TelegramID is set for users registered through the bot.
type User struct {
	ID                  int64     `json:"id" db:"id"`
	TelegramID          *int64    `json:"telegramId,omitempty" db:"telegram_id"`
	Username            string    `json:"username" db:"username"`
	NotificationEnabled bool      `json:"notificationEnabled" db:"notification_enabled"`
	NotificationHour    int       `json:"notificationHour" db:"notification_hour"` // Hour of day for notifications (0-23)
	DailyLimit          int       `json:"dailyLimit" db:"daily_limit"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
}
