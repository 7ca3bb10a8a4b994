package voicews

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// ErrClosed is reported for anything attempted after the connection is gone
var ErrClosed = errors.New("voice connection closed")

// Compile-time interface checks
var (
	_ guide.Speaker   = (*Transport)(nil)
	_ guide.Listener  = (*Transport)(nil)
	_ guide.PhotoFlow = (*Transport)(nil)
	_ guide.Observer  = (*Transport)(nil)
)

// Reviewer analyzes an uploaded photo and proposes item updates
type Reviewer interface {
	Review(ctx context.Context, session guide.Session, item guide.Item, image []byte, mime string) (guide.PhotoResult, error)
}

// Config tunes the websocket connection
type Config struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	PhotoTimeout    time.Duration
}

// DefaultConfig returns the settings used by the server
func DefaultConfig() Config {
	return Config{
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageBytes: 16 << 20,
		PhotoTimeout:    5 * time.Minute,
	}
}

type listenCallbacks struct {
	onResult func(string)
	onError  func(error)
	onEnd    func()
}

// Transport is one browser connection acting as the walk's speaker,
// listener, camera and state display
type Transport struct {
	guide.NopObserver

	conn     *websocket.Conn
	config   Config
	reviewer Reviewer
	logger   *logger.Logger

	send      chan []byte
	quit      chan struct{} // Close was called
	gone      chan struct{} // the read side ended
	written   chan struct{} // the write pump exited
	closeOnce sync.Once
	goneOnce  sync.Once
	started   bool

	mu         sync.Mutex
	nextID     uint64
	speakID    uint64
	onSpoken   func()
	listenID   uint64
	listener   *listenCallbacks
	photoInbox chan Message
	onStop     func()
}

// NewTransport wraps an upgraded connection. reviewer may be nil, in which
// case photo capture is refused.
func NewTransport(conn *websocket.Conn, config Config, reviewer Reviewer, log *logger.Logger) *Transport {
	if log == nil {
		log = logger.NewNop()
	}
	return &Transport{
		conn:     conn,
		config:   config,
		reviewer: reviewer,
		logger:   log.Named("voicews"),
		send:     make(chan []byte, 64),
		quit:     make(chan struct{}),
		gone:     make(chan struct{}),
		written:  make(chan struct{}),
	}
}

// OnStop registers what to do when the client asks to stop or disconnects
func (t *Transport) OnStop(fn func()) {
	t.mu.Lock()
	t.onStop = fn
	t.mu.Unlock()
}

// Start runs the read and write pumps
func (t *Transport) Start() {
	t.started = true
	go t.writePump()
	go t.readPump()
}

// Done is closed once the client is gone
func (t *Transport) Done() <-chan struct{} {
	return t.gone
}

// Close flushes queued messages, sends a close frame and waits briefly for
// the write pump to finish
func (t *Transport) Close() {
	t.closeOnce.Do(func() { close(t.quit) })
	if !t.started {
		t.conn.Close()
		return
	}
	select {
	case <-t.written:
	case <-time.After(t.config.WriteWait):
	}
}

// Speak asks the browser to say text. A previous utterance still playing is
// superseded and its onDone runs immediately.
func (t *Transport) Speak(text string, onDone func()) {
	t.mu.Lock()
	prev := t.onSpoken
	t.nextID++
	id := t.nextID
	t.speakID = id
	t.onSpoken = onDone
	t.mu.Unlock()

	if prev != nil {
		prev()
	}
	if err := t.write(Message{Type: TypeSpeak, ID: id, Text: text}); err != nil {
		t.finishSpeech(id)
	}
}

// Cancel stops playback in the browser
func (t *Transport) Cancel() {
	t.mu.Lock()
	cb := t.onSpoken
	t.onSpoken = nil
	t.mu.Unlock()

	t.write(Message{Type: TypeCancelSpeech})
	if cb != nil {
		cb()
	}
}

// StartListening asks the browser to recognize one utterance
func (t *Transport) StartListening(onResult func(string), onError func(error), onEnd func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listenID = id
	t.listener = &listenCallbacks{onResult: onResult, onError: onError, onEnd: onEnd}
	t.mu.Unlock()

	if err := t.write(Message{Type: TypeListen, ID: id}); err != nil {
		t.endListen(id, err)
	}
}

// StopListening abandons the current recognition
func (t *Transport) StopListening() {
	t.mu.Lock()
	active := t.listener != nil
	t.listener = nil
	t.mu.Unlock()

	if active {
		t.write(Message{Type: TypeStopListening})
	}
}

// StateChanged mirrors the loop state to the browser
func (t *Transport) StateChanged(snap guide.Snapshot) {
	position := snap.Position
	t.write(Message{Type: TypeState, State: snap.State, Position: &position, Total: snap.Total})
}

// Ended tells the browser the walk is over
func (t *Transport) Ended(outcome guide.Outcome) {
	position := outcome.Position
	t.write(Message{Type: TypeEnded, Reason: outcome.Reason, Position: &position})
}

// CapturePhoto asks the browser for a photo of item, reviews it and waits
// for the user to confirm or cancel the proposed updates
func (t *Transport) CapturePhoto(ctx context.Context, session guide.Session, item guide.Item) (guide.PhotoResult, error) {
	if t.reviewer == nil {
		return guide.PhotoResult{}, fmt.Errorf("photo review is not configured")
	}

	inbox := make(chan Message, 4)
	t.mu.Lock()
	t.photoInbox = inbox
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.photoInbox = nil
		t.mu.Unlock()
	}()

	if err := t.write(Message{Type: TypeCapturePhoto, ItemID: item.ID}); err != nil {
		return guide.PhotoResult{}, err
	}

	timer := time.NewTimer(t.config.PhotoTimeout)
	defer timer.Stop()

	// Wait for the upload
	var upload Message
	for upload.Type != TypePhoto {
		msg, err := t.waitPhoto(ctx, inbox, timer.C)
		if err != nil {
			return guide.PhotoResult{}, err
		}
		switch msg.Type {
		case TypePhotoCancelled:
			return guide.Cancelled(), nil
		case TypePhoto:
			upload = msg
		default:
			t.logger.Debug("Ignoring message while waiting for photo", logger.String("type", string(msg.Type)))
		}
	}

	image, mime, err := decodeImage(upload.Image, upload.MIME)
	if err != nil {
		t.write(Message{Type: TypePhotoFailed, ItemID: item.ID, Error: err.Error()})
		return guide.PhotoResult{}, err
	}

	result, err := t.reviewer.Review(ctx, session, item, image, mime)
	if err != nil {
		t.write(Message{Type: TypePhotoFailed, ItemID: item.ID, Error: "photo could not be analyzed"})
		return guide.PhotoResult{}, err
	}

	if err := t.write(Message{Type: TypePhotoReview, ItemID: item.ID, Updates: result.Updates}); err != nil {
		return guide.PhotoResult{}, err
	}

	// Wait for the user's decision; the confirmed updates may be edited
	for {
		msg, err := t.waitPhoto(ctx, inbox, timer.C)
		if err != nil {
			return guide.PhotoResult{}, err
		}
		switch msg.Type {
		case TypePhotoConfirm:
			return guide.Updates(msg.Updates), nil
		case TypePhotoCancelled:
			return guide.Cancelled(), nil
		default:
			t.logger.Debug("Ignoring message while waiting for confirmation", logger.String("type", string(msg.Type)))
		}
	}
}

func (t *Transport) waitPhoto(ctx context.Context, inbox <-chan Message, timeout <-chan time.Time) (Message, error) {
	select {
	case msg := <-inbox:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.gone:
		return Message{}, ErrClosed
	case <-timeout:
		return Message{}, fmt.Errorf("timed out waiting for photo")
	}
}

// decodeImage accepts raw base64 or a data URL
func decodeImage(encoded, mime string) ([]byte, string, error) {
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", fmt.Errorf("malformed data url")
		}
		if mime == "" {
			mime = strings.TrimSuffix(header, ";base64")
		}
		encoded = data
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode photo: %w", err)
	}
	return image, mime, nil
}

func (t *Transport) finishSpeech(id uint64) {
	t.mu.Lock()
	var cb func()
	if t.speakID == id {
		cb = t.onSpoken
		t.onSpoken = nil
	}
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (t *Transport) currentListener(id uint64) *listenCallbacks {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listenID != id {
		return nil
	}
	return t.listener
}

func (t *Transport) endListen(id uint64, err error) {
	t.mu.Lock()
	var cb *listenCallbacks
	if t.listenID == id {
		cb = t.listener
		t.listener = nil
	}
	t.mu.Unlock()

	if cb == nil {
		return
	}
	if err != nil {
		cb.onError(err)
	}
	cb.onEnd()
}

// handleMessage routes one client message
func (t *Transport) handleMessage(msg Message) {
	switch msg.Type {
	case TypeSpoken:
		t.finishSpeech(msg.ID)

	case TypeResult:
		if cb := t.currentListener(msg.ID); cb != nil {
			cb.onResult(msg.Text)
		}

	case TypeError:
		if cb := t.currentListener(msg.ID); cb != nil {
			cb.onError(errors.New(msg.Error))
		}

	case TypeEnd:
		t.endListen(msg.ID, nil)

	case TypePhoto, TypePhotoConfirm, TypePhotoCancelled:
		t.mu.Lock()
		inbox := t.photoInbox
		t.mu.Unlock()
		if inbox == nil {
			t.logger.Warn("Photo message outside a capture", logger.String("type", string(msg.Type)))
			return
		}
		select {
		case inbox <- msg:
		default:
			t.logger.Warn("Photo inbox full, dropping message", logger.String("type", string(msg.Type)))
		}

	case TypeStop:
		t.stop()

	default:
		t.logger.Warn("Unknown message type", logger.String("type", string(msg.Type)))
	}
}

func (t *Transport) stop() {
	t.mu.Lock()
	fn := t.onStop
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// write queues a message for the write pump
func (t *Transport) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	select {
	case <-t.quit:
		return ErrClosed
	case <-t.gone:
		return ErrClosed
	default:
	}

	select {
	case t.send <- data:
		return nil
	case <-t.quit:
		return ErrClosed
	case <-t.gone:
		return ErrClosed
	}
}

// readPump pumps messages from the websocket connection to handleMessage
func (t *Transport) readPump() {
	defer t.markGone()

	t.conn.SetReadLimit(t.config.MaxMessageBytes)
	t.conn.SetReadDeadline(time.Now().Add(t.config.PongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(t.config.PongWait))
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("Websocket read failed", logger.Error(err))
			}
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(t.config.PongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("Failed to decode message", logger.Error(err))
			continue
		}
		t.handleMessage(msg)
	}
}

// markGone stops the walk, then fails whatever is pending. The stop comes
// first so those failures are never taken for silence.
func (t *Transport) markGone() {
	t.goneOnce.Do(func() {
		t.stop()
		close(t.gone)

		t.mu.Lock()
		speech := t.onSpoken
		t.onSpoken = nil
		listen := t.listener
		t.listener = nil
		t.mu.Unlock()

		if speech != nil {
			speech()
		}
		if listen != nil {
			listen.onError(ErrClosed)
			listen.onEnd()
		}
	})
}

// writePump pumps messages from the send queue to the websocket connection
func (t *Transport) writePump() {
	ticker := time.NewTicker(t.config.PingInterval)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		close(t.written)
	}()

	for {
		select {
		case data := <-t.send:
			if err := t.writeFrame(websocket.TextMessage, data); err != nil {
				t.logger.Debug("Websocket write failed", logger.Error(err))
				return
			}

		case <-ticker.C:
			if err := t.writeFrame(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.quit:
			// Flush what is queued, then say goodbye
			for {
				select {
				case data := <-t.send:
					if err := t.writeFrame(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					t.writeFrame(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case <-t.gone:
			return
		}
	}
}

func (t *Transport) writeFrame(messageType int, data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.config.WriteWait))
	return t.conn.WriteMessage(messageType, data)
}
