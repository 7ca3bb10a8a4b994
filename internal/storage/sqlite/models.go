package sqlite

import (
	"time"

	"github.com/yegors/shiftcheck/internal/guide"
)

// Session lifecycle values stored in sessions.status
const (
	SessionOpen  = "open"
	SessionEnded = "ended"
)

// SessionRecord is a stored session with its items and lifecycle
type SessionRecord struct {
	guide.Session
	Status    string           `json:"status"`              // "open" or "ended"
	EndReason guide.StopReason `json:"end_reason,omitempty"`
	Position  int              `json:"position"`
	CreatedAt time.Time        `json:"created_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// OnHandRecord is an item's count as of the walk that last counted it
type OnHandRecord struct {
	ItemID    string    `json:"item_id"`
	Quantity  float64   `json:"quantity"`
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PhotoLogRecord is one analyzed photo
type PhotoLogRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ItemID    string    `json:"item_id"`
	PhotoPath string    `json:"photo_path"`
	Provider  string    `json:"provider"`         // "openai" or "manual"
	Result    string    `json:"result,omitempty"` // raw analysis JSON
	CreatedAt time.Time `json:"created_at"`
}
