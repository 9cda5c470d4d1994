package models

import "time"

// Log events
const (
	EventReview = "review"
	EventReset  = "reset"
)

// ReviewLog is an append-only record of one grading step or reset
type ReviewLog struct {
	ID               string    `json:"id" db:"id"`
	Event            string    `json:"event" db:"event"`
	UserID           int64     `json:"userId" db:"user_id"`
	Kind             ItemKind  `json:"kind" db:"item_kind"`
	ItemID           int64     `json:"itemId" db:"item_id"`
	Quality          int       `json:"quality" db:"quality"`
	EasinessBefore   float64   `json:"easinessBefore" db:"easiness_before"`
	EasinessAfter    float64   `json:"easinessAfter" db:"easiness_after"`
	RepetitionsAfter int       `json:"repetitionsAfter" db:"repetitions_after"`
	IntervalAfter    int       `json:"intervalAfter" db:"interval_after"`
	ReviewedAt       time.Time `json:"reviewedAt" db:"reviewed_at"`
}
