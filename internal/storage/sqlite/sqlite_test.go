package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/pkg/logger"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(MemoryPath, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func barSession() guide.Session {
	return guide.Session{
		ID:   "sess-1",
		Mode: guide.ModeInventory,
		Items: []guide.Item{
			{ID: "vodka", Text: "Tito's Vodka", SizeML: 1000, ParLevel: 4},
			{ID: "gin", Text: "Hendrick's Gin", SizeML: 750, Critical: true},
			{ID: "rum", Text: "Bacardi Superior"},
		},
	}
}

func qty(v float64) *float64 { return &v }

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	require.NoError(t, store.Sessions.CreateSession(ctx, barSession()))

	got, err := store.Sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, barSession().Items, got.Items)
	assert.Equal(t, guide.ModeInventory, got.Mode)
	assert.Equal(t, SessionOpen, got.Status)
	assert.Nil(t, got.EndedAt)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	require.NoError(t, store.Sessions.MarkEnded(ctx, "sess-1", guide.Outcome{Reason: guide.ReasonStopped, Position: 2}))

	got, err = store.Sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, got.Status)
	assert.Equal(t, guide.ReasonStopped, got.EndReason)
	assert.Equal(t, 2, got.Position)
	assert.NotNil(t, got.EndedAt)
}

func TestSessionNotFound(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	_, err := store.Sessions.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Sessions.MarkEnded(ctx, "missing", guide.Outcome{Reason: guide.ReasonCompleted})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateSessionFails(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	require.NoError(t, store.Sessions.CreateSession(ctx, barSession()))
	assert.Error(t, store.Sessions.CreateSession(ctx, barSession()))
}

func TestResponsesUpsertOnSessionAndItem(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	require.NoError(t, store.Sessions.CreateSession(ctx, barSession()))

	first := guide.Response{SessionID: "sess-1", ItemID: "gin", Status: guide.StatusPass, Quantity: qty(2), Transcript: "two"}
	require.NoError(t, store.Responses.SaveResponse(ctx, first))

	second := guide.Response{SessionID: "sess-1", ItemID: "gin", Status: guide.StatusPass, Quantity: qty(3.5), Note: "one open"}
	require.NoError(t, store.Responses.SaveResponse(ctx, second))

	got, err := store.Responses.GetResponse(ctx, "sess-1", "gin")
	require.NoError(t, err)
	assert.Equal(t, 3.5, *got.Quantity)
	assert.Equal(t, "one open", got.Note)
	assert.Empty(t, got.Transcript)
	assert.False(t, got.RecordedAt.IsZero())

	all, err := store.Responses.GetResponses(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResponsesFollowItemOrder(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	require.NoError(t, store.Sessions.CreateSession(ctx, barSession()))

	for _, id := range []string{"rum", "vodka", "gin"} {
		require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{
			SessionID: "sess-1",
			ItemID:    id,
			Status:    guide.StatusSkipped,
		}))
	}

	all, err := store.Responses.GetResponses(ctx, "sess-1")
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ItemID)
		assert.Nil(t, r.Quantity)
	}
	assert.Equal(t, []string{"vodka", "gin", "rum"}, ids)
}

func TestResponseRequiresSession(t *testing.T) {
	store := createTestStore(t)
	err := store.Responses.SaveResponse(context.Background(), guide.Response{SessionID: "nope", ItemID: "x", Status: guide.StatusPass})
	assert.Error(t, err)
}

func TestGetResponseNotFound(t *testing.T) {
	store := createTestStore(t)
	_, err := store.Responses.GetResponse(context.Background(), "sess-1", "gin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountByStatus(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	session := barSession()
	session.Mode = guide.ModeAudit
	require.NoError(t, store.Sessions.CreateSession(ctx, session))

	save := func(item string, status guide.Status) {
		require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-1", ItemID: item, Status: status}))
	}
	save("vodka", guide.StatusPass)
	save("gin", guide.StatusFail)
	save("rum", guide.StatusFail)

	counts, err := store.Responses.CountByStatus(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, map[guide.Status]int{guide.StatusPass: 1, guide.StatusFail: 2}, counts)
}

func TestInventoryReconciliation(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	// First count: nothing on hand yet
	require.NoError(t, store.Sessions.CreateSession(ctx, barSession()))
	require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-1", ItemID: "vodka", Status: guide.StatusPass, Quantity: qty(4)}))
	require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-1", ItemID: "gin", Status: guide.StatusPass, Quantity: qty(2.5)}))
	require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-1", ItemID: "rum", Status: guide.StatusSkipped}))

	got, err := store.Responses.GetResponse(ctx, "sess-1", "vodka")
	require.NoError(t, err)
	assert.Equal(t, 0.0, *got.PreviousOnHand)
	assert.Equal(t, 4.0, *got.Difference)

	_, err = store.OnHand.GetOnHand(ctx, "vodka")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Sessions.MarkEnded(ctx, "sess-1", guide.Outcome{Reason: guide.ReasonCompleted, Position: 3}))

	onHand, err := store.OnHand.ListOnHand(ctx)
	require.NoError(t, err)
	require.Len(t, onHand, 2)
	assert.Equal(t, "gin", onHand[0].ItemID)
	assert.Equal(t, 2.5, onHand[0].Quantity)
	assert.Equal(t, "vodka", onHand[1].ItemID)
	assert.Equal(t, 4.0, onHand[1].Quantity)
	assert.Equal(t, "sess-1", onHand[1].SessionID)

	// Second count is reconciled against the first
	next := barSession()
	next.ID = "sess-2"
	require.NoError(t, store.Sessions.CreateSession(ctx, next))
	require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-2", ItemID: "vodka", Status: guide.StatusPass, Quantity: qty(1.5)}))
	require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-2", ItemID: "rum", Status: guide.StatusPass, Quantity: qty(3)}))

	all, err := store.Responses.GetResponses(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 4.0, *all[0].PreviousOnHand)
	assert.Equal(t, -2.5, *all[0].Difference)
	assert.Equal(t, 0.0, *all[1].PreviousOnHand)
	assert.Equal(t, 3.0, *all[1].Difference)

	// A stopped walk leaves on-hand alone
	require.NoError(t, store.Sessions.MarkEnded(ctx, "sess-2", guide.Outcome{Reason: guide.ReasonStopped, Position: 1}))
	vodka, err := store.OnHand.GetOnHand(ctx, "vodka")
	require.NoError(t, err)
	assert.Equal(t, 4.0, vodka.Quantity)
	assert.Equal(t, "sess-1", vodka.SessionID)
}

func TestCompletedAuditKeepsOnHand(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	session := barSession()
	session.Mode = guide.ModeAudit
	require.NoError(t, store.Sessions.CreateSession(ctx, session))

	require.NoError(t, store.Responses.SaveResponse(ctx, guide.Response{SessionID: "sess-1", ItemID: "vodka", Status: guide.StatusPass}))
	require.NoError(t, store.Sessions.MarkEnded(ctx, "sess-1", guide.Outcome{Reason: guide.ReasonCompleted, Position: 3}))

	got, err := store.Responses.GetResponse(ctx, "sess-1", "vodka")
	require.NoError(t, err)
	assert.Nil(t, got.PreviousOnHand)
	assert.Nil(t, got.Difference)

	onHand, err := store.OnHand.ListOnHand(ctx)
	require.NoError(t, err)
	assert.Empty(t, onHand)
}

func TestPhotoLogs(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	record := &PhotoLogRecord{
		SessionID: "sess-1",
		ItemID:    "vodka",
		PhotoPath: "photos/sess-1/1_vodka.jpg",
		Provider:  "openai",
		Result:    `{"detections":[]}`,
	}
	id, err := store.Photos.StorePhotoLog(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)

	_, err = store.Photos.StorePhotoLog(ctx, &PhotoLogRecord{SessionID: "sess-1", ItemID: "gin", PhotoPath: "p", Provider: "manual"})
	require.NoError(t, err)

	logs, err := store.Photos.GetPhotoLogs(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "vodka", logs[0].ItemID)
	assert.Equal(t, `{"detections":[]}`, logs[0].Result)
	assert.Empty(t, logs[1].Result)

	none, err := store.Photos.GetPhotoLogs(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shiftcheck.db")

	store, err := NewStore(path, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Sessions.CreateSession(context.Background(), barSession()))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path, logger.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Sessions.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 3)
}
