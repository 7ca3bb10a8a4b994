// Package guide runs the voice-guided walk through a checklist or an
// inventory count: speak a prompt, listen for one utterance, interpret it,
// apply the effect, advance.
package guide

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/shiftcheck/internal/command"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// ErrAlreadyRunning is returned when Run is called more than once
var ErrAlreadyRunning = errors.New("guided walk already started")

// Config tunes the loop
type Config struct {
	// MaxSilentRetries stops the walk after this many consecutive captures
	// end without a transcript. Zero re-prompts forever.
	MaxSilentRetries int
	// SaveTimeout bounds a single response write. Zero means no bound.
	SaveTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured
func DefaultConfig() Config {
	return Config{
		MaxSilentRetries: 3,
		SaveTimeout:      5 * time.Second,
	}
}

// Options wires a Controller to its collaborators
type Options struct {
	Session    Session
	Speaker    Speaker
	Listener   Listener
	Store      ResponseStore
	Photos     PhotoFlow // optional
	Observer   Observer  // optional
	OnComplete func()    // optional, called once when the last item is done
	Config     Config
	Logger     *logger.Logger
}

// Controller owns one guided walk. All loop state is read and written by
// the goroutine inside Run; speech callbacks only post events to it.
type Controller struct {
	session    Session
	script     Script
	speaker    Speaker
	listener   Listener
	store      ResponseStore
	photos     PhotoFlow
	observer   Observer
	onComplete func()
	config     Config
	logger     *logger.Logger

	mail     *mailbox
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	// Owned by the Run goroutine
	ctx         context.Context
	token       uint64
	afterSpeech func()
	noteMode    bool
	silent      int
	answered    map[string]Response
	outcome     *Outcome

	mu       sync.RWMutex
	state    State
	position int
	active   bool
}

// NewController validates the options and returns an idle controller
func NewController(opts Options) (*Controller, error) {
	if !opts.Session.Mode.Valid() {
		return nil, fmt.Errorf("invalid session mode: %q", opts.Session.Mode)
	}
	if opts.Speaker == nil || opts.Listener == nil {
		return nil, fmt.Errorf("speaker and listener are required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("response store is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	return &Controller{
		session:    opts.Session,
		script:     scriptFor(opts.Session.Mode),
		speaker:    opts.Speaker,
		listener:   opts.Listener,
		store:      opts.Store,
		photos:     opts.Photos,
		observer:   observer,
		onComplete: opts.OnComplete,
		config:     opts.Config,
		logger:     log.Named("guide").WithSession(opts.Session.ID),
		mail:       newMailbox(),
		stopCh:     make(chan struct{}),
		answered:   make(map[string]Response),
		state:      StateIdle,
	}, nil
}

// Run drives the walk until it completes, the user says stop, the input
// keeps coming back empty, Stop is called or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	if !c.started.CompareAndSwap(false, true) {
		return Outcome{}, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()
	c.ctx = runCtx

	c.logger.Info("Starting guided walk",
		logger.String("mode", string(c.session.Mode)),
		logger.Int("items", len(c.session.Items)))

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.setState(StateIdle)
	c.step()

	for c.outcome == nil {
		// Cancellation wins over events already queued, so failures caused
		// by the stop itself never count as silence
		if c.stopRequested() {
			c.cancelWalk()
			break
		}
		select {
		case <-runCtx.Done():
			c.cancelWalk()
		case <-c.stopCh:
			c.cancelWalk()
		case <-c.mail.signal:
			for _, ev := range c.mail.drain() {
				if c.stopRequested() {
					c.cancelWalk()
					break
				}
				c.handle(ev)
				if c.outcome != nil {
					break
				}
			}
		}
	}

	return *c.outcome, nil
}

// stopRequested reports whether Stop was called or the run context is done
func (c *Controller) stopRequested() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return c.ctx.Err() != nil
	}
}

func (c *Controller) cancelWalk() {
	c.speaker.Cancel()
	c.finish(ReasonCancelled)
}

// Stop deactivates the walk and releases speech. Safe to call from any
// goroutine, any number of times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Snapshot returns the current state and position
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Session returns the session this controller walks
func (c *Controller) Session() Session {
	return c.session
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: c.session.ID,
		State:     c.state,
		Position:  c.position,
		Total:     len(c.session.Items),
		Active:    c.active,
	}
}

func (c *Controller) setState(state State) {
	c.mu.Lock()
	c.state = state
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.observer.StateChanged(snap)
}

func (c *Controller) currentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) currentPosition() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

func (c *Controller) moveTo(position int) {
	if position < 0 {
		position = 0
	}
	c.mu.Lock()
	c.position = position
	c.mu.Unlock()
}

// step prompts the current item whenever the loop is active and idle
func (c *Controller) step() {
	if c.outcome != nil || c.currentState() != StateIdle {
		return
	}

	position := c.currentPosition()
	if position >= len(c.session.Items) {
		c.speak(c.script.Complete, c.complete)
		return
	}

	item := c.session.Items[position]
	c.logger.Debug("Prompting item",
		logger.Int("position", position),
		logger.String("item_id", item.ID))
	c.speak(prompt(c.session.Mode, position, item), c.listen)
}

func (c *Controller) handle(ev event) {
	if ev.token != c.token {
		c.logger.Debug("Ignoring stale speech callback",
			logger.String("event", ev.kind.String()),
			logger.Uint64("token", ev.token),
			logger.Uint64("current_token", c.token))
		return
	}

	switch ev.kind {
	case evSpoken:
		if c.currentState() != StateSpeaking {
			return
		}
		next := c.afterSpeech
		c.afterSpeech = nil
		if next != nil {
			next()
		}

	case evResult:
		if c.currentState() != StateListening {
			return
		}
		// The capture's trailing onEnd must not count as silence
		c.token++
		c.silent = 0
		c.setState(StateProcessing)
		if c.noteMode {
			c.noteMode = false
			c.saveNote(ev.text)
		} else {
			c.interpret(ev.text)
		}

	case evListenError, evListenEnd:
		if c.currentState() != StateListening {
			return
		}
		if ev.err != nil {
			c.logger.Warn("Speech capture failed", logger.Error(ev.err))
		}
		c.token++
		c.noResult()
	}

	c.step()
}

func (c *Controller) speak(text string, then func()) {
	c.token++
	token := c.token
	c.afterSpeech = then
	c.setState(StateSpeaking)
	c.speaker.Speak(text, func() {
		c.mail.post(event{kind: evSpoken, token: token})
	})
}

func (c *Controller) listen() {
	c.token++
	token := c.token
	c.setState(StateListening)
	c.listener.StartListening(
		func(transcript string) {
			c.mail.post(event{kind: evResult, token: token, text: transcript})
		},
		func(err error) {
			c.mail.post(event{kind: evListenError, token: token, err: err})
		},
		func() {
			c.mail.post(event{kind: evListenEnd, token: token})
		},
	)
}

// noResult handles a capture that closed without a transcript
func (c *Controller) noResult() {
	c.silent++
	c.noteMode = false

	if c.config.MaxSilentRetries > 0 && c.silent >= c.config.MaxSilentRetries {
		c.logger.Warn("No speech captured, pausing walk",
			logger.Int("attempts", c.silent))
		c.farewell(c.script.NoInput, ReasonNoInput)
		return
	}

	c.setState(StateIdle)
}

func (c *Controller) interpret(transcript string) {
	var cmd command.Command
	if c.session.Mode == ModeInventory {
		cmd = command.ParseInventory(transcript)
	} else {
		cmd = command.Parse(transcript)
	}
	c.observer.CommandInterpreted(c.session.Mode, cmd.Action)

	position := c.currentPosition()
	item := c.session.Items[position]

	c.logger.Debug("Interpreted utterance",
		logger.String("transcript", cmd.Text),
		logger.String("action", string(cmd.Action)),
		logger.Int("position", position))

	switch cmd.Action {
	case command.AnswerYes:
		c.answer(item, StatusPass, cmd)
	case command.AnswerNo:
		c.answer(item, StatusFail, cmd)
	case command.AnswerSkip:
		c.answer(item, StatusSkipped, cmd)
	case command.AnswerAttention:
		c.answer(item, StatusNeedsAttention, cmd)
	case command.AnswerNA:
		c.answer(item, StatusNA, cmd)
	case command.Quantity:
		c.count(item, cmd)
	case command.Next:
		c.speak(c.script.Skipping, c.advance)
	case command.Previous:
		c.moveTo(position - 1)
		c.setState(StateIdle)
	case command.Repeat:
		c.speak(c.script.Repeating, c.idle)
	case command.AddNote:
		c.noteMode = true
		c.speak(c.script.NotePrompt, c.listen)
	case command.TakePhoto:
		c.takePhoto(item)
	case command.Stop:
		c.farewell(c.script.Stopped, ReasonStopped)
	default:
		c.speak(c.script.Unknown, c.idle)
	}
}

func (c *Controller) answer(item Item, status Status, cmd command.Command) {
	c.save(Response{
		SessionID:  c.session.ID,
		ItemID:     item.ID,
		Status:     status,
		Transcript: cmd.Text,
		RecordedAt: time.Now().UTC(),
	})
	c.speak(c.script.Answers[status], c.advance)
}

func (c *Controller) count(item Item, cmd command.Command) {
	qty := cmd.Quantity
	c.save(Response{
		SessionID:  c.session.ID,
		ItemID:     item.ID,
		Status:     StatusPass,
		Quantity:   &qty,
		Transcript: cmd.Text,
		RecordedAt: time.Now().UTC(),
	})
	c.speak(quantityConfirmation(item, qty), c.advance)
}

// saveNote attaches a dictated note to the current item, keeping any answer
// already given for it in this walk.
func (c *Controller) saveNote(note string) {
	item := c.session.Items[c.currentPosition()]

	resp := Response{
		SessionID:  c.session.ID,
		ItemID:     item.ID,
		Status:     StatusNeedsAttention,
		Note:       note,
		RecordedAt: time.Now().UTC(),
	}
	if prev, ok := c.answered[item.ID]; ok {
		resp.Status = prev.Status
		resp.Quantity = prev.Quantity
		resp.Transcript = prev.Transcript
	}

	c.save(resp)
	c.speak(c.script.NoteSaved, c.idle)
}

// save writes a response. Failures are logged and reported to the
// observer; the walk carries on either way.
func (c *Controller) save(resp Response) {
	ctx := c.ctx
	if c.config.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.ctx, c.config.SaveTimeout)
		defer cancel()
	}

	err := c.store.SaveResponse(ctx, resp)
	if err != nil {
		c.logger.Error("Failed to save response, continuing",
			logger.String("item_id", resp.ItemID),
			logger.String("status", string(resp.Status)),
			logger.Error(err))
	}
	c.answered[resp.ItemID] = resp
	c.observer.ResponseSaved(c.session.Mode, err)
}

func (c *Controller) takePhoto(item Item) {
	if c.photos == nil {
		c.speak(c.script.PhotoMissing, c.idle)
		return
	}
	c.speak(c.script.OpeningCamera, func() { c.capture(item) })
}

// capture blocks the loop until the photo sub-flow returns
func (c *Controller) capture(item Item) {
	c.setState(StateProcessing)

	result, err := c.photos.CapturePhoto(c.ctx, c.session, item)
	if c.ctx.Err() != nil {
		// Run notices the cancellation and ends the walk
		return
	}
	if err != nil {
		c.logger.Warn("Photo capture failed", logger.String("item_id", item.ID), logger.Error(err))
		c.setState(StateIdle)
		return
	}

	switch result.Kind {
	case PhotoUpdates:
		applied := c.applyPhoto(result.Updates)
		c.logger.Info("Applied photo results",
			logger.String("item_id", item.ID),
			logger.Int("updates", applied))
		c.speak(c.script.PhotoDone, c.idle)
	case PhotoCancelled:
		c.logger.Debug("Photo capture cancelled", logger.String("item_id", item.ID))
		c.setState(StateIdle)
	default:
		c.logger.Warn("Unknown photo result", logger.String("kind", string(result.Kind)))
		c.setState(StateIdle)
	}
}

// applyPhoto saves one response per updated item, in session order
func (c *Controller) applyPhoto(updates map[string]Delta) int {
	applied := 0
	for _, item := range c.session.Items {
		delta, ok := updates[item.ID]
		if !ok {
			continue
		}

		status := delta.Status
		if status == "" {
			status = c.defaultPhotoStatus(item)
		}
		resp := Response{
			SessionID:  c.session.ID,
			ItemID:     item.ID,
			Status:     status,
			Quantity:   delta.Quantity,
			Note:       delta.Note,
			Transcript: "photo",
			RecordedAt: time.Now().UTC(),
		}
		if prev, ok := c.answered[item.ID]; ok && resp.Note == "" {
			resp.Note = prev.Note
		}

		c.save(resp)
		applied++
	}

	if applied < len(updates) {
		c.logger.Warn("Photo results referenced items outside the session",
			logger.Int("ignored", len(updates)-applied))
	}
	return applied
}

func (c *Controller) defaultPhotoStatus(item Item) Status {
	if prev, ok := c.answered[item.ID]; ok {
		return prev.Status
	}
	if c.session.Mode == ModeInventory {
		return StatusPass
	}
	return StatusNeedsAttention
}

func (c *Controller) advance() {
	c.moveTo(c.currentPosition() + 1)
	c.setState(StateIdle)
}

func (c *Controller) idle() {
	c.setState(StateIdle)
}

func (c *Controller) complete() {
	c.finish(ReasonCompleted)
	if c.onComplete != nil {
		c.onComplete()
	}
}

// farewell says a last line without waiting for it and ends the walk
func (c *Controller) farewell(text string, reason StopReason) {
	c.token++
	c.afterSpeech = nil
	c.speaker.Speak(text, func() {})
	c.finish(reason)
}

func (c *Controller) finish(reason StopReason) {
	if c.outcome != nil {
		return
	}

	c.listener.StopListening()

	c.mu.Lock()
	c.active = false
	c.state = StateStopped
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.outcome = &Outcome{Reason: reason, Position: snap.Position}
	c.observer.StateChanged(snap)
	c.observer.SessionEnded(c.session.Mode, *c.outcome)

	c.logger.Info("Guided walk ended",
		logger.String("reason", string(reason)),
		logger.Int("position", snap.Position),
		logger.Int("items", snap.Total))
}
