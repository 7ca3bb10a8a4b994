package guide

import (
	"time"
)

// Mode selects the vocabulary and phrasing of a guided walk
type Mode string

const (
	ModeAudit     Mode = "audit"
	ModeInventory Mode = "inventory"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeAudit || m == ModeInventory
}

// Item is one checklist question or inventory line
type Item struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Critical bool    `json:"critical,omitempty"`
	SizeML   int     `json:"size_ml,omitempty"`
	ParLevel float64 `json:"par_level,omitempty"`
}

// Session is one run of the guided loop over an ordered list of items
type Session struct {
	ID    string `json:"id"`
	Mode  Mode   `json:"mode"`
	Items []Item `json:"items"`
}

// Status is the recorded outcome of one item
type Status string

const (
	StatusPass           Status = "pass"
	StatusFail           Status = "fail"
	StatusSkipped        Status = "skipped"
	StatusNeedsAttention Status = "needs_attention"
	StatusNA             Status = "na"
)

// Response is the persisted outcome for one (session, item) pair.
// PreviousOnHand and Difference are filled in by the store for counted
// items: the on-hand count before this walk and Quantity minus it.
type Response struct {
	SessionID      string    `json:"session_id"`
	ItemID         string    `json:"item_id"`
	Status         Status    `json:"status"`
	Quantity       *float64  `json:"quantity,omitempty"`
	PreviousOnHand *float64  `json:"previous_on_hand,omitempty"`
	Difference     *float64  `json:"difference,omitempty"`
	Note           string    `json:"note,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// State is the step the loop is currently in
type State string

const (
	StateIdle       State = "idle"
	StateSpeaking   State = "speaking"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateStopped    State = "stopped"
)

// StopReason explains why a loop ended
type StopReason string

const (
	ReasonCompleted StopReason = "completed"
	ReasonStopped   StopReason = "stopped"   // the user said stop
	ReasonCancelled StopReason = "cancelled" // Stop() or context cancellation
	ReasonNoInput   StopReason = "no_input"  // too many captures without a result
)

// Snapshot is a point-in-time view of a running loop
type Snapshot struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	Position  int    `json:"position"`
	Total     int    `json:"total"`
	Active    bool   `json:"active"`
}

// Outcome is returned by Run once the loop has ended
type Outcome struct {
	Reason   StopReason `json:"reason"`
	Position int        `json:"position"`
}

// PhotoKind tags a PhotoResult
type PhotoKind string

const (
	PhotoUpdates   PhotoKind = "updates"
	PhotoCancelled PhotoKind = "cancelled"
)

// Delta is a per-item change proposed by the photo sub-flow
type Delta struct {
	Quantity *float64 `json:"quantity,omitempty"`
	Status   Status   `json:"status,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// PhotoResult is what the photo sub-flow hands back to the loop
type PhotoResult struct {
	Kind    PhotoKind        `json:"kind"`
	Updates map[string]Delta `json:"updates,omitempty"`
}

// Cancelled returns the result of an abandoned capture
func Cancelled() PhotoResult {
	return PhotoResult{Kind: PhotoCancelled}
}

// Updates returns a result carrying per-item deltas
func Updates(updates map[string]Delta) PhotoResult {
	if updates == nil {
		updates = map[string]Delta{}
	}
	return PhotoResult{Kind: PhotoUpdates, Updates: updates}
}
