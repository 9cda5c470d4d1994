package models

import "time"

// Character represents a Chinese character to be learned
type Character struct {
	ID        int64     `json:"id" db:"id"`
	Hanzi     string    `json:"hanzi" db:"hanzi"`
	Pinyin    string    `json:"pinyin" db:"pinyin"`
	Meaning   string    `json:"meaning" db:"meaning"`
	HSKLevel  int       `json:"hskLevel" db:"hsk_level"` // 0 when not part of HSK
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
