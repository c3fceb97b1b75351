package storage

import (
	"time"

	"github.com/google/uuid"
)

// Sample is one recorded signal value
type Sample struct {
	ID        int64              `json:"id,omitempty"`
	BoardID   uuid.UUID          `json:"board_id"`
	BoardName string             `json:"board_name"`
	Header    string             `json:"header"`
	Fields    map[string]float64 `json:"fields"` // JSONB
	Timestamp time.Time          `json:"timestamp"`
}
