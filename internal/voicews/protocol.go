// Package voicews binds a browser's speech synthesis, speech recognition
// and camera to a guided walk over a websocket
package voicews

import (
	"github.com/yegors/shiftcheck/internal/guide"
)

// MessageType identifies a websocket message
type MessageType string

// Server to client
const (
	TypeSpeak         MessageType = "speak"
	TypeCancelSpeech  MessageType = "cancel_speech"
	TypeListen        MessageType = "listen"
	TypeStopListening MessageType = "stop_listening"
	TypeCapturePhoto  MessageType = "capture_photo"
	TypePhotoReview   MessageType = "photo_review"
	TypePhotoFailed   MessageType = "photo_failed"
	TypeState         MessageType = "state"
	TypeEnded         MessageType = "ended"
)

// Client to server
const (
	TypeSpoken         MessageType = "spoken"
	TypeResult         MessageType = "result"
	TypeError          MessageType = "error"
	TypeEnd            MessageType = "end"
	TypePhoto          MessageType = "photo"
	TypePhotoConfirm   MessageType = "photo_confirm"
	TypePhotoCancelled MessageType = "photo_cancelled"
	TypeStop           MessageType = "stop"
)

// Message is the single JSON frame shape used in both directions. ID pairs
// speak with spoken and listen with result, error and end.
type Message struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id,omitempty"`

	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
	ItemID string `json:"item_id,omitempty"`

	// Photo upload, base64 encoded
	Image string `json:"image,omitempty"`
	MIME  string `json:"mime,omitempty"`

	Updates map[string]guide.Delta `json:"updates,omitempty"`

	State    guide.State      `json:"state,omitempty"`
	Position *int             `json:"position,omitempty"`
	Total    int              `json:"total,omitempty"`
	Reason   guide.StopReason `json:"reason,omitempty"`
}
