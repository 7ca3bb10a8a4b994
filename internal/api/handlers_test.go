package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/shiftcheck/internal/config"
	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/internal/metrics"
	"github.com/yegors/shiftcheck/internal/storage/sqlite"
	"github.com/yegors/shiftcheck/internal/voicews"
	"github.com/yegors/shiftcheck/pkg/logger"
)

type testServer struct {
	*httptest.Server
	store   *sqlite.Store
	metrics *metrics.Collector
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logger.NewNop()
	store, err := sqlite.NewStore(sqlite.MemoryPath, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	collector := metrics.NewCollector(false)

	handler := NewHandler(HandlerOptions{
		Store:    store,
		Observer: collector,
		Guide:    guide.Config{MaxSilentRetries: 3, SaveTimeout: time.Second},
		Voice:    voicews.DefaultConfig(),
		Logger:   log,
	})
	srv := httptest.NewServer(NewRouter(handler, collector, cfg, log).Routes())
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, store: store, metrics: collector, handler: handler}
}

func (s *testServer) createSession(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(s.URL+"/api/v1/sessions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) scrape(t *testing.T) string {
	t.Helper()
	resp := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const auditBody = `{"mode":"audit","items":[
	{"id":"ice","text":"Ice bin clean"},
	{"id":"id-check","text":"IDs checked at the door","critical":true}
]}`

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.createSession(t, auditBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decode[SessionResponse](t, resp)
	require.NotNil(t, created.Session)
	assert.NotEmpty(t, created.Session.ID)
	assert.Equal(t, guide.ModeAudit, created.Session.Mode)
	assert.Equal(t, sqlite.SessionOpen, created.Session.Status)
	require.Len(t, created.Session.Items, 2)
	assert.True(t, created.Session.Items[1].Critical)

	got := decode[SessionResponse](t, srv.get(t, "/api/v1/sessions/"+created.Session.ID))
	assert.Equal(t, created.Session.ID, got.Session.ID)
	assert.Nil(t, got.Live)
}

func TestCreateSessionValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{`, "invalid JSON"},
		{"bad mode", `{"mode":"party","items":[]}`, "mode must be"},
		{"empty id", `{"mode":"audit","items":[{"id":" ","text":"x"}]}`, "no id"},
		{"duplicate id", `{"mode":"inventory","items":[{"id":"a"},{"id":"a"}]}`, "duplicate item id"},
		{"negative par", `{"mode":"inventory","items":[{"id":"a","par_level":-1}]}`, "negative par"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.createSession(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, srv.get(t, "/api/v1/sessions/missing").StatusCode)
	assert.Equal(t, http.StatusNotFound, srv.get(t, "/api/v1/sessions/missing/responses").StatusCode)
	assert.Equal(t, http.StatusNotFound, srv.get(t, "/api/v1/sessions/missing/voice").StatusCode)

	resp, err := http.Post(srv.URL+"/api/v1/sessions/missing/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, resp)["status"])

	srv.get(t, "/api/v1/sessions/missing")
	srv.get(t, "/api/v1/sessions/other")

	assert.Contains(t, srv.scrape(t),
		`shiftcheck_http_requests_total{method="GET",route="/api/v1/sessions/{id}",status="404"} 2`)
}

// voiceClient plays the browser: it finishes every utterance at once and
// answers each listen with the next scripted reply
type voiceClient struct {
	t       *testing.T
	conn    *websocket.Conn
	replies []string
	spoken  []string
}

func dialVoice(t *testing.T, srv *testServer, sessionID string, replies ...string) *voiceClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/" + sessionID + "/voice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &voiceClient{t: t, conn: conn, replies: replies}
}

// run answers the server until the walk ends and returns the end message
func (c *voiceClient) run() voicews.Message {
	c.t.Helper()
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg voicews.Message
		require.NoError(c.t, c.conn.ReadJSON(&msg))

		switch msg.Type {
		case voicews.TypeSpeak:
			c.spoken = append(c.spoken, msg.Text)
			c.send(voicews.Message{Type: voicews.TypeSpoken, ID: msg.ID})
		case voicews.TypeListen:
			if len(c.replies) == 0 {
				c.send(voicews.Message{Type: voicews.TypeEnd, ID: msg.ID})
				continue
			}
			reply := c.replies[0]
			c.replies = c.replies[1:]
			c.send(voicews.Message{Type: voicews.TypeResult, ID: msg.ID, Text: reply})
			c.send(voicews.Message{Type: voicews.TypeEnd, ID: msg.ID})
		case voicews.TypeEnded:
			return msg
		}
	}
}

func (c *voiceClient) send(msg voicews.Message) {
	// The server may already be closing after a farewell
	c.conn.WriteJSON(msg)
}

func TestVoiceWalk(t *testing.T) {
	srv := newTestServer(t)
	created := decode[SessionResponse](t, srv.createSession(t, auditBody))
	id := created.Session.ID

	client := dialVoice(t, srv, id, "yes", "no")
	ended := client.run()

	assert.Equal(t, guide.ReasonCompleted, ended.Reason)
	require.NotNil(t, ended.Position)
	assert.Equal(t, 2, *ended.Position)
	assert.Equal(t, "Item 1: Ice bin clean. Say Yes, No, or Add Photo.", client.spoken[0])
	assert.Contains(t, client.spoken, guide.AuditScript.Complete)

	responses := decode[ResponsesResponse](t, srv.get(t, "/api/v1/sessions/"+id+"/responses"))
	require.Len(t, responses.Responses, 2)
	assert.Equal(t, "ice", responses.Responses[0].ItemID)
	assert.Equal(t, guide.StatusPass, responses.Responses[0].Status)
	assert.Equal(t, guide.StatusFail, responses.Responses[1].Status)
	assert.Equal(t, map[guide.Status]int{guide.StatusPass: 1, guide.StatusFail: 1}, responses.Counts)

	session := decode[SessionResponse](t, srv.get(t, "/api/v1/sessions/"+id))
	assert.Equal(t, sqlite.SessionEnded, session.Session.Status)
	assert.Equal(t, guide.ReasonCompleted, session.Session.EndReason)

	// An ended session cannot be walked again
	assert.Equal(t, http.StatusConflict, srv.get(t, "/api/v1/sessions/"+id+"/voice").StatusCode)

	assert.Contains(t, srv.scrape(t), `shiftcheck_walks_ended_total{mode="audit",reason="completed"} 1`)
}

func TestVoiceWalkUserStops(t *testing.T) {
	srv := newTestServer(t)
	created := decode[SessionResponse](t, srv.createSession(t, auditBody))

	ended := dialVoice(t, srv, created.Session.ID, "yes", "stop").run()
	assert.Equal(t, guide.ReasonStopped, ended.Reason)
	assert.Equal(t, 1, *ended.Position)
}

func TestVoiceWalkSilence(t *testing.T) {
	srv := newTestServer(t)
	created := decode[SessionResponse](t, srv.createSession(t, auditBody))

	ended := dialVoice(t, srv, created.Session.ID).run()
	assert.Equal(t, guide.ReasonNoInput, ended.Reason)
	assert.Equal(t, 0, *ended.Position)
}

const inventoryBody = `{"mode":"inventory","items":[
	{"id":"titos","text":"Tito's Vodka","size_ml":750,"par_level":6},
	{"id":"hendricks","text":"Hendrick's Gin","size_ml":750}
]}`

func TestInventoryVariance(t *testing.T) {
	srv := newTestServer(t)

	first := decode[SessionResponse](t, srv.createSession(t, inventoryBody))
	ended := dialVoice(t, srv, first.Session.ID, "four", "two and a half").run()
	require.Equal(t, guide.ReasonCompleted, ended.Reason)

	onHand := decode[OnHandResponse](t, srv.get(t, "/api/v1/on-hand"))
	require.Len(t, onHand.Items, 2)
	assert.Equal(t, "hendricks", onHand.Items[0].ItemID)
	assert.Equal(t, 2.5, onHand.Items[0].Quantity)
	assert.Equal(t, "titos", onHand.Items[1].ItemID)
	assert.Equal(t, 4.0, onHand.Items[1].Quantity)

	second := decode[SessionResponse](t, srv.createSession(t, inventoryBody))
	ended = dialVoice(t, srv, second.Session.ID, "1 point 5", "3").run()
	require.Equal(t, guide.ReasonCompleted, ended.Reason)

	responses := decode[ResponsesResponse](t, srv.get(t, "/api/v1/sessions/"+second.Session.ID+"/responses"))
	require.Len(t, responses.Responses, 2)
	titos := responses.Responses[0]
	assert.Equal(t, 1.5, *titos.Quantity)
	assert.Equal(t, 4.0, *titos.PreviousOnHand)
	assert.Equal(t, -2.5, *titos.Difference)
	hendricks := responses.Responses[1]
	assert.Equal(t, 2.5, *hendricks.PreviousOnHand)
	assert.Equal(t, 0.5, *hendricks.Difference)
	require.NotNil(t, responses.Variance)
	assert.Equal(t, -2.0, *responses.Variance)

	audit := decode[SessionResponse](t, srv.createSession(t, auditBody))
	dialVoice(t, srv, audit.Session.ID, "yes", "yes").run()
	assert.Nil(t, decode[ResponsesResponse](t, srv.get(t, "/api/v1/sessions/"+audit.Session.ID+"/responses")).Variance)
}

func TestWalkRegistry(t *testing.T) {
	walks := newWalkRegistry()

	require.NoError(t, walks.reserve("s1"))
	assert.ErrorIs(t, walks.reserve("s1"), errWalkRunning)
	assert.Nil(t, walks.get("s1"))
	assert.Empty(t, walks.all())
	assert.Equal(t, 1, walks.count())

	walks.release("s1")
	require.NoError(t, walks.reserve("s1"))

	walks.close()
	assert.ErrorIs(t, walks.reserve("s2"), errShuttingDown)
	assert.False(t, walks.attach("s1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, walks.wait(ctx), context.DeadlineExceeded)

	walks.release("s1")
	walks.release("s1")
	assert.NoError(t, walks.wait(context.Background()))
}

func TestShutdownWaitsForWalks(t *testing.T) {
	srv := newTestServer(t)
	created := decode[SessionResponse](t, srv.createSession(t, auditBody))
	id := created.Session.ID

	// Hold the walk on its first prompt without answering
	client := dialVoice(t, srv, id)
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg voicews.Message
	require.NoError(t, client.conn.ReadJSON(&msg))
	require.Equal(t, voicews.TypeSpeak, msg.Type)

	require.Eventually(t, func() bool {
		return len(srv.handler.walks.all()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.handler.Shutdown(ctx))

	// Ended before Shutdown returned
	record, err := srv.store.Sessions.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sqlite.SessionEnded, record.Status)
	assert.Equal(t, guide.ReasonCancelled, record.EndReason)
	assert.Zero(t, srv.handler.walks.count())

	other := decode[SessionResponse](t, srv.createSession(t, auditBody))
	assert.Equal(t, http.StatusServiceUnavailable,
		srv.get(t, "/api/v1/sessions/"+other.Session.ID+"/voice").StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/sessions", bytes.NewReader(nil))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
