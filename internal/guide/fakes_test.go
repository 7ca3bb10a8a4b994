package guide

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// fakeSpeaker finishes every utterance immediately
type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	cancels int
}

func (s *fakeSpeaker) Speak(text string, onDone func()) {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	onDone()
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
}

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *fakeSpeaker) count(prefix string) int {
	n := 0
	for _, text := range s.said() {
		if strings.HasPrefix(text, prefix) {
			n++
		}
	}
	return n
}

// scriptedListener replays utterances, one per capture. "" is silence,
// "!err" is a recognizer error. Once the script runs out every capture is
// silent.
type scriptedListener struct {
	mu         sync.Mutex
	utterances []string
	starts     int
	stops      int
}

func newListener(utterances ...string) *scriptedListener {
	return &scriptedListener{utterances: utterances}
}

func (l *scriptedListener) StartListening(onResult func(string), onError func(error), onEnd func()) {
	l.mu.Lock()
	l.starts++
	next := ""
	if len(l.utterances) > 0 {
		next = l.utterances[0]
		l.utterances = l.utterances[1:]
	}
	l.mu.Unlock()

	switch next {
	case "":
	case "!err":
		onError(errors.New("microphone denied"))
	default:
		onResult(next)
	}
	onEnd()
}

func (l *scriptedListener) StopListening() {
	l.mu.Lock()
	l.stops++
	l.mu.Unlock()
}

// memStore records writes and fails the ones listed in failOn (1-based)
type memStore struct {
	mu     sync.Mutex
	calls  int
	saved  []Response
	failOn map[int]bool
}

func (s *memStore) SaveResponse(ctx context.Context, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn[s.calls] {
		return errors.New("backend unavailable")
	}
	s.saved = append(s.saved, resp)
	return nil
}

func (s *memStore) responses() []Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Response(nil), s.saved...)
}

// fakePhotos returns a fixed result
type fakePhotos struct {
	result PhotoResult
	err    error
	calls  []string
}

func (p *fakePhotos) CapturePhoto(ctx context.Context, session Session, item Item) (PhotoResult, error) {
	p.calls = append(p.calls, item.ID)
	return p.result, p.err
}

// recordingObserver keeps what it was told
type recordingObserver struct {
	NopObserver
	mu     sync.Mutex
	states []State
	ended  []Outcome
	errors int
}

func (o *recordingObserver) StateChanged(snap Snapshot) {
	o.mu.Lock()
	o.states = append(o.states, snap.State)
	o.mu.Unlock()
}

func (o *recordingObserver) ResponseSaved(mode Mode, err error) {
	if err != nil {
		o.mu.Lock()
		o.errors++
		o.mu.Unlock()
	}
}

func (o *recordingObserver) SessionEnded(mode Mode, outcome Outcome) {
	o.mu.Lock()
	o.ended = append(o.ended, outcome)
	o.mu.Unlock()
}
