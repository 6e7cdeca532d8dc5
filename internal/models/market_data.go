package models

import "time"

// MarketDataSnapshot is a persisted cache entry for one market dataset.
type MarketDataSnapshot struct {
	Key       string    `json:"key" db:"key"`
	Payload   []byte    `json:"payload" db:"payload"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
