package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/internal/storage/sqlite"
	"github.com/yegors/shiftcheck/internal/voicews"
	"github.com/yegors/shiftcheck/pkg/logger"
)

// HandlerOptions wires a Handler
type HandlerOptions struct {
	Store          *sqlite.Store
	Reviewer       voicews.Reviewer // nil disables photo capture
	Observer       guide.Observer   // optional
	Guide          guide.Config
	Voice          voicews.Config
	AllowedOrigins []string
	Logger         *logger.Logger
}

// Handler serves sessions, their responses and the voice websocket
type Handler struct {
	store       *sqlite.Store
	reviewer    voicews.Reviewer
	observer    guide.Observer
	guideConfig guide.Config
	voiceConfig voicews.Config
	upgrader    *websocket.Upgrader
	walks       *walkRegistry
	logger      *logger.Logger
}

// NewHandler creates a new handler
func NewHandler(opts HandlerOptions) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		store:       opts.Store,
		reviewer:    opts.Reviewer,
		observer:    opts.Observer,
		guideConfig: opts.Guide,
		voiceConfig: opts.Voice,
		upgrader:    voicews.NewUpgrader(opts.AllowedOrigins),
		walks:       newWalkRegistry(),
		logger:      log.Named("api"),
	}
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	Mode  guide.Mode   `json:"mode"`
	Items []guide.Item `json:"items"`
}

// Validate checks the mode and that item ids are present and unique
func (req CreateSessionRequest) Validate() error {
	if !req.Mode.Valid() {
		return fmt.Errorf("mode must be %q or %q", guide.ModeAudit, guide.ModeInventory)
	}
	seen := make(map[string]bool, len(req.Items))
	for i, item := range req.Items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return fmt.Errorf("item %d has no id", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate item id %q", id)
		}
		seen[id] = true
		if item.ParLevel < 0 {
			return fmt.Errorf("item %q has a negative par level", id)
		}
	}
	return nil
}

// SessionResponse is a stored session plus the live walk, if one is running
type SessionResponse struct {
	Session *sqlite.SessionRecord `json:"session"`
	Live    *guide.Snapshot       `json:"live,omitempty"`
}

// ResponsesResponse lists a session's responses with a per-status tally.
// Variance sums the difference of every counted item and is absent when
// nothing was counted.
type ResponsesResponse struct {
	SessionID string               `json:"session_id"`
	Responses []guide.Response     `json:"responses"`
	Counts    map[guide.Status]int `json:"counts"`
	Variance  *float64             `json:"variance,omitempty"`
}

// OnHandResponse is the body of GET /on-hand
type OnHandResponse struct {
	Items []sqlite.OnHandRecord `json:"items"`
}

// GetHealth reports whether the database answers
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DB.PingContext(r.Context()); err != nil {
		h.logger.Error("Health check failed", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"walks":  h.walks.count(),
	})
}

// CreateSession stores a new session with a generated id
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := req.Items
	if items == nil {
		items = []guide.Item{}
	}
	for i := range items {
		items[i].ID = strings.TrimSpace(items[i].ID)
	}
	session := guide.Session{
		ID:    uuid.NewString(),
		Mode:  req.Mode,
		Items: items,
	}

	if err := h.store.Sessions.CreateSession(r.Context(), session); err != nil {
		h.logger.Error("Failed to create session", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.logger.Info("Created session",
		logger.String("session_id", session.ID),
		logger.String("mode", string(session.Mode)),
		logger.Int("items", len(session.Items)))

	record, err := h.store.Sessions.GetSession(r.Context(), session.ID)
	if err != nil {
		h.logger.Error("Failed to read back session", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: record})
}

// GetSession returns a session and its live state
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	resp := SessionResponse{Session: record}
	if ctrl := h.walks.get(record.ID); ctrl != nil {
		snap := ctrl.Snapshot()
		resp.Live = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetResponses returns every recorded response of a session
func (h *Handler) GetResponses(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	responses, err := h.store.Responses.GetResponses(r.Context(), record.ID)
	if err != nil {
		h.logger.Error("Failed to get responses", logger.String("session_id", record.ID), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get responses")
		return
	}
	counts, err := h.store.Responses.CountByStatus(r.Context(), record.ID)
	if err != nil {
		h.logger.Error("Failed to count responses", logger.String("session_id", record.ID), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get responses")
		return
	}

	writeJSON(w, http.StatusOK, ResponsesResponse{
		SessionID: record.ID,
		Responses: responses,
		Counts:    counts,
		Variance:  variance(responses),
	})
}

func variance(responses []guide.Response) *float64 {
	var (
		sum     float64
		counted bool
	)
	for _, resp := range responses {
		if resp.Difference != nil {
			sum += *resp.Difference
			counted = true
		}
	}
	if !counted {
		return nil
	}
	return &sum
}

// GetOnHand lists the current count of every item an inventory walk has
// completed
func (h *Handler) GetOnHand(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.OnHand.ListOnHand(r.Context())
	if err != nil {
		h.logger.Error("Failed to list on-hand counts", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list on-hand counts")
		return
	}
	writeJSON(w, http.StatusOK, OnHandResponse{Items: items})
}

// StopWalk stops the running walk of a session
func (h *Handler) StopWalk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctrl := h.walks.get(id)
	if ctrl == nil {
		writeError(w, http.StatusNotFound, "no walk running for this session")
		return
	}
	ctrl.Stop()
	w.WriteHeader(http.StatusAccepted)
}

// HandleVoice upgrades to a websocket and runs the guided walk over it
// until the walk ends or the client goes away
func (h *Handler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	if record.Status == sqlite.SessionEnded {
		writeError(w, http.StatusConflict, "session has ended")
		return
	}
	if err := h.walks.reserve(record.ID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, errShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	defer h.walks.release(record.ID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied
		h.logger.Warn("Websocket upgrade failed", logger.String("session_id", record.ID), logger.Error(err))
		return
	}

	log := h.logger.WithSession(record.ID)
	transport := voicews.NewTransport(conn, h.voiceConfig, h.reviewer, h.logger)

	var photos guide.PhotoFlow
	if h.reviewer != nil {
		photos = transport
	}

	ctrl, err := guide.NewController(guide.Options{
		Session:  record.Session,
		Speaker:  transport,
		Listener: transport,
		Store:    h.store.Responses,
		Photos:   photos,
		Observer: guide.Observers(h.observer, transport),
		OnComplete: func() {
			log.Info("Every item answered")
		},
		Config: h.guideConfig,
		Logger: h.logger,
	})
	if err != nil {
		log.Error("Failed to start walk", logger.Error(err))
		transport.Close()
		return
	}

	if !h.walks.attach(record.ID, ctrl) {
		transport.Close()
		return
	}
	transport.OnStop(ctrl.Stop)
	transport.Start()

	outcome, err := ctrl.Run(context.Background())
	if err != nil {
		log.Error("Walk failed", logger.Error(err))
		transport.Close()
		return
	}

	if err := h.store.Sessions.MarkEnded(context.Background(), record.ID, outcome); err != nil {
		log.Error("Failed to mark session ended", logger.Error(err))
	}
	transport.Ended(outcome)
	transport.Close()

	log.Info("Walk ended",
		logger.String("reason", string(outcome.Reason)),
		logger.Int("position", outcome.Position))
}

// Shutdown refuses new walks, stops the running ones and waits until each
// has recorded how it ended or ctx is done
func (h *Handler) Shutdown(ctx context.Context) error {
	for _, ctrl := range h.walks.close() {
		ctrl.Stop()
	}
	return h.walks.wait(ctx)
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*sqlite.SessionRecord, bool) {
	id := chi.URLParam(r, "id")
	record, err := h.store.Sessions.GetSession(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to get session", logger.String("session_id", id), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return nil, false
	}
	return record, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

var (
	errWalkRunning  = errors.New("a walk is already running for this session")
	errShuttingDown = errors.New("server is shutting down")
)

// walkRegistry tracks the walk running for each session. A reserved entry
// has a nil controller until the websocket is up.
type walkRegistry struct {
	mu      sync.Mutex
	walks   map[string]*guide.Controller
	closing bool
	running sync.WaitGroup // one per reservation, done on release
}

func newWalkRegistry() *walkRegistry {
	return &walkRegistry{walks: make(map[string]*guide.Controller)}
}

func (r *walkRegistry) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return errShuttingDown
	}
	if _, taken := r.walks[id]; taken {
		return errWalkRunning
	}
	r.walks[id] = nil
	r.running.Add(1)
	return nil
}

// attach reports false once the registry is closing; the walk must not start
func (r *walkRegistry) attach(id string, ctrl *guide.Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.walks[id] = ctrl
	return true
}

func (r *walkRegistry) release(id string) {
	r.mu.Lock()
	_, ok := r.walks[id]
	delete(r.walks, id)
	r.mu.Unlock()
	if ok {
		r.running.Done()
	}
}

// close refuses further reservations and returns the walks to stop
func (r *walkRegistry) close() []*guide.Controller {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	return r.all()
}

// wait blocks until every reservation is released
func (r *walkRegistry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *walkRegistry) get(id string) *guide.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.walks[id]
}

func (r *walkRegistry) all() []*guide.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*guide.Controller, 0, len(r.walks))
	for _, ctrl := range r.walks {
		if ctrl != nil {
			out = append(out, ctrl)
		}
	}
	return out
}

func (r *walkRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.walks)
}
