// Package speech provides speaker and listener implementations for the
// guided walk that do not need a browser.
package speech

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// Compile-time interface checks
var (
	_ guide.Speaker  = (*Console)(nil)
	_ guide.Listener = (*Console)(nil)
)

// callbacks are the handlers of one capture
type callbacks struct {
	onResult func(string)
	onError  func(error)
	onEnd    func()
}

// deliver hands one input line to a capture
func (cb *callbacks) deliver(text string, err error) {
	switch {
	case err != nil:
		cb.onError(err)
	case strings.TrimSpace(text) != "":
		cb.onResult(strings.TrimSpace(text))
	}
	cb.onEnd()
}

// Console speaks by printing prompts and listens by reading one line of
// input per capture. A blank line is treated as silence.
type Console struct {
	in     io.Reader
	out    io.Writer
	logger *logger.Logger

	readOnce sync.Once

	mu       sync.Mutex
	ready    *sync.Cond
	current  *callbacks // capture waiting for the next line
	closed   error      // set once the input is exhausted
	onClosed func()
}

// NewConsole creates a console speaker and listener
func NewConsole(in io.Reader, out io.Writer, log *logger.Logger) *Console {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Console{
		in:     in,
		out:    out,
		logger: log.Named("console"),
	}
	c.ready = sync.NewCond(&c.mu)
	return c
}

// Speak prints the text. Output is immediate, so onDone runs before Speak
// returns.
func (c *Console) Speak(text string, onDone func()) {
	c.mu.Lock()
	_, err := fmt.Fprintf(c.out, "> %s\n", text)
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("Failed to write prompt", logger.Error(err))
	}
	onDone()
}

// OnClosed registers what to do when the input runs out. It runs before the
// pending capture sees the error.
func (c *Console) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// Cancel has nothing to interrupt
func (c *Console) Cancel() {}

// StartListening registers a capture for the next input line
func (c *Console) StartListening(onResult func(string), onError func(error), onEnd func()) {
	c.readOnce.Do(func() { go c.readLines() })

	cb := &callbacks{onResult: onResult, onError: onError, onEnd: onEnd}

	c.mu.Lock()
	if c.closed != nil {
		err := c.closed
		c.mu.Unlock()
		cb.deliver("", err)
		return
	}
	c.current = cb
	c.ready.Signal()
	c.mu.Unlock()
}

// StopListening abandons the current capture. A line typed afterwards is
// delivered to the next capture.
func (c *Console) StopListening() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// readLines is the only reader of the input. Each line waits for a capture.
func (c *Console) readLines() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.next().deliver(scanner.Text(), nil)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.logger.Debug("Console input closed", logger.Error(err))

	c.mu.Lock()
	c.closed = err
	cb := c.current
	c.current = nil
	fn := c.onClosed
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	// Later captures fail as soon as they start
	if cb != nil {
		cb.deliver("", err)
	}
}

// next blocks until a capture is registered and claims it
func (c *Console) next() *callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.current == nil {
		c.ready.Wait()
	}
	cb := c.current
	c.current = nil
	return cb
}
