package models

import "time"

// ReviewableItem tracks a user's spaced-repetition state for one character or sentence
type ReviewableItem struct {
	ID             int64      `json:"-" db:"id"`
	UserID         int64      `json:"userId" db:"user_id"`
	Kind           ItemKind   `json:"kind" db:"item_kind"`
	ItemID         int64      `json:"id" db:"item_id"`
	EasinessFactor float64    `json:"easinessFactor" db:"easiness_factor"` // SM-2 EF parameter
	Repetitions    int        `json:"repetitions" db:"repetitions"`        // Consecutive successful recalls
	Interval       int        `json:"interval" db:"interval_days"`         // Current interval in days
	Learning       bool       `json:"learning" db:"learning"`              // Set by start learning
	LastReviewDate *time.Time `json:"lastReviewDate,omitempty" db:"last_review_date"`
	NextReviewDate *time.Time `json:"nextReviewDate,omitempty" db:"next_review_date"`
	FirstSeenDate  *time.Time `json:"firstSeenDate,omitempty" db:"first_seen_date"`
	SeenContext    string     `json:"seenContext,omitempty" db:"seen_context"`
	Version        int64      `json:"version" db:"version"`
	CreatedAt      time.Time  `json:"-" db:"created_at"`
	UpdatedAt      time.Time  `json:"-" db:"updated_at"`
}

// Clone returns a copy that shares no pointers with the receiver.
func (it ReviewableItem) Clone() ReviewableItem {
	out := it
	out.LastReviewDate = cloneTime(it.LastReviewDate)
	out.NextReviewDate = cloneTime(it.NextReviewDate)
	out.FirstSeenDate = cloneTime(it.FirstSeenDate)
	return out
}

// DueForReview reports whether the item should be offered for review at now:
// it is scheduled and the date has passed, or it is learning and was never scheduled.
func (it ReviewableItem) DueForReview(now time.Time) bool {
	if it.NextReviewDate != nil {
		return !it.NextReviewDate.After(now)
	}
	return it.Learning
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ItemKey identifies one reviewable item of one user.
type ItemKey struct {
	UserID int64
	Kind   ItemKind
	ItemID int64
}

// NewReviewableItem returns an empty record for key; no SRS fields are set.
func NewReviewableItem(key ItemKey) ReviewableItem {
	return ReviewableItem{UserID: key.UserID, Kind: key.Kind, ItemID: key.ItemID}
}

// Key returns the identity of the item.
func (it ReviewableItem) Key() ItemKey {
	return ItemKey{UserID: it.UserID, Kind: it.Kind, ItemID: it.ItemID}
}
