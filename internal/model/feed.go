package model

import "time"

// Feed represents a recently opened podcast feed
type Feed struct {
	URL          string    `json:"url" db:"url"`
	Title        string    `json:"title" db:"title"`
	LastOpenedAt time.Time `json:"last_opened_at" db:"last_opened_at"`
}
