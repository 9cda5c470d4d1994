package models

import "time"

// Sentence represents an example sentence practiced as a flashcard
type Sentence struct {
	ID        int64     `json:"id" db:"id"`
	Chinese   string    `json:"chinese" db:"chinese"`
	Pinyin    string    `json:"pinyin" db:"pinyin"`
	English   string    `json:"english" db:"english"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
