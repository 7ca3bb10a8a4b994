package guide

import "sync"

type eventKind int

const (
	evSpoken eventKind = iota
	evResult
	evListenError
	evListenEnd
)

func (k eventKind) String() string {
	switch k {
	case evSpoken:
		return "spoken"
	case evResult:
		return "result"
	case evListenError:
		return "listen_error"
	case evListenEnd:
		return "listen_end"
	default:
		return "unknown"
	}
}

// event is a speech callback turned into a message for the loop goroutine.
// token identifies the speak/listen call that produced it.
type event struct {
	kind  eventKind
	token uint64
	text  string
	err   error
}

// mailbox is an unbounded queue so callbacks never block, even when a
// collaborator invokes them from inside Speak or StartListening.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queue
	m.queue = nil
	return queue
}
