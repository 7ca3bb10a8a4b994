package guide

import (
	"context"

	"github.com/yegors/shiftcheck/internal/command"
)

// Speaker synthesizes speech. onDone must be called exactly once, when
// playback finishes or fails. A new Speak supersedes any playback in flight.
type Speaker interface {
	Speak(text string, onDone func())
	Cancel()
}

// Listener captures one utterance per StartListening. onEnd is called when
// the capture closes, including after onResult or onError.
type Listener interface {
	StartListening(onResult func(transcript string), onError func(err error), onEnd func())
	StopListening()
}

// ResponseStore writes or overwrites the response keyed by (session, item)
type ResponseStore interface {
	SaveResponse(ctx context.Context, response Response) error
}

// PhotoFlow captures and reviews a photo for the current item. The loop
// waits for it to return.
type PhotoFlow interface {
	CapturePhoto(ctx context.Context, session Session, item Item) (PhotoResult, error)
}

// Observer receives notifications from a running loop. Implementations
// must not block.
type Observer interface {
	CommandInterpreted(mode Mode, action command.Action)
	ResponseSaved(mode Mode, err error)
	StateChanged(snapshot Snapshot)
	SessionEnded(mode Mode, outcome Outcome)
}

// NopObserver ignores every notification
type NopObserver struct{}

func (NopObserver) CommandInterpreted(Mode, command.Action) {}
func (NopObserver) ResponseSaved(Mode, error)              {}
func (NopObserver) StateChanged(Snapshot)                  {}
func (NopObserver) SessionEnded(Mode, Outcome)             {}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) CommandInterpreted(mode Mode, action command.Action) {
	for _, o := range m {
		o.CommandInterpreted(mode, action)
	}
}

func (m multiObserver) ResponseSaved(mode Mode, err error) {
	for _, o := range m {
		o.ResponseSaved(mode, err)
	}
}

func (m multiObserver) StateChanged(snapshot Snapshot) {
	for _, o := range m {
		o.StateChanged(snapshot)
	}
}

func (m multiObserver) SessionEnded(mode Mode, outcome Outcome) {
	for _, o := range m {
		o.SessionEnded(mode, outcome)
	}
}
