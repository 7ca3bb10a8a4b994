package speech

import (
	"errors"
	"fmt"
	"sync"

	"github.com/yegors/shiftcheck/internal/guide"
)

var (
	// ErrMicrophoneBusy is returned when another owner holds the microphone
	ErrMicrophoneBusy = errors.New("microphone is in use")
	// ErrLeaseReleased is reported to captures started on a released lease
	ErrLeaseReleased = errors.New("microphone lease released")
)

// Microphone hands a single speech input to one owner at a time
type Microphone struct {
	source guide.Listener

	mu    sync.Mutex
	lease *Lease
}

// NewMicrophone wraps a listener so only one walk can capture from it
func NewMicrophone(source guide.Listener) *Microphone {
	return &Microphone{source: source}
}

// Acquire takes the microphone for owner. It fails with ErrMicrophoneBusy
// until the current lease is released.
func (m *Microphone) Acquire(owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lease != nil {
		return nil, fmt.Errorf("%w: held by %s", ErrMicrophoneBusy, m.lease.owner)
	}
	m.lease = &Lease{mic: m, owner: owner}
	return m.lease, nil
}

// Owner returns the current holder, if any
func (m *Microphone) Owner() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease == nil {
		return "", false
	}
	return m.lease.owner, true
}

// Lease is exclusive access to a Microphone. It implements guide.Listener.
type Lease struct {
	mic   *Microphone
	owner string

	mu       sync.Mutex
	released bool
}

var _ guide.Listener = (*Lease)(nil)

// Owner returns who holds the lease
func (l *Lease) Owner() string {
	return l.owner
}

// StartListening captures from the underlying listener
func (l *Lease) StartListening(onResult func(string), onError func(error), onEnd func()) {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()

	if released {
		onError(ErrLeaseReleased)
		onEnd()
		return
	}
	l.mic.source.StartListening(onResult, onError, onEnd)
}

// StopListening stops the underlying capture
func (l *Lease) StopListening() {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()

	if !released {
		l.mic.source.StopListening()
	}
}

// Release stops any capture and frees the microphone. Calling it again is a
// no-op.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()

	l.mic.source.StopListening()

	l.mic.mu.Lock()
	if l.mic.lease == l {
		l.mic.lease = nil
	}
	l.mic.mu.Unlock()
}
