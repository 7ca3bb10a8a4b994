package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/shiftcheck/internal/guide"
	"github.com/yegors/shiftcheck/pkg/logger"
)

var _ guide.ResponseStore = (*ResponseStorage)(nil)

// ResponseStorage handles per-item responses. A (session, item) pair has
// at most one row; saving again overwrites it.
type ResponseStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewResponseStorage creates the responses table if needed
func NewResponseStorage(db *sql.DB, log *logger.Logger) (*ResponseStorage, error) {
	storage := &ResponseStorage{
		db:     db,
		logger: log.Named("sqlite-resp"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize response storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *ResponseStorage) initDB() error {
	return createSchema(s.db,
		`CREATE TABLE IF NOT EXISTS responses (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			status TEXT NOT NULL,
			quantity REAL,
			previous_on_hand REAL,
			difference REAL,
			note TEXT,
			transcript TEXT,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, item_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_responses_status ON responses(status)`,
	)
}

// SaveResponse inserts or replaces the response for (session, item)
func (s *ResponseStorage) SaveResponse(ctx context.Context, resp guide.Response) error {
	recordedAt := resp.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	var quantity, previous, difference sql.NullFloat64
	if resp.Quantity != nil {
		quantity = sql.NullFloat64{Float64: *resp.Quantity, Valid: true}

		prev, err := s.onHand(ctx, resp.ItemID)
		if err != nil {
			return err
		}
		previous = sql.NullFloat64{Float64: prev, Valid: true}
		difference = sql.NullFloat64{Float64: *resp.Quantity - prev, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (session_id, item_id, status, quantity, previous_on_hand, difference, note, transcript, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, item_id) DO UPDATE SET
			status = excluded.status,
			quantity = excluded.quantity,
			previous_on_hand = excluded.previous_on_hand,
			difference = excluded.difference,
			note = excluded.note,
			transcript = excluded.transcript,
			recorded_at = excluded.recorded_at`,
		resp.SessionID,
		resp.ItemID,
		string(resp.Status),
		quantity,
		previous,
		difference,
		nullString(resp.Note),
		nullString(resp.Transcript),
		recordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert response: %w", err)
	}

	return nil
}

// onHand returns the item's count from the last completed inventory walk,
// or 0 if it was never counted
func (s *ResponseStorage) onHand(ctx context.Context, itemID string) (float64, error) {
	var quantity float64
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity FROM on_hand WHERE item_id = ?`,
		itemID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query on-hand count: %w", err)
	}
	return quantity, nil
}

// GetResponses returns a session's responses in item order
func (s *ResponseStorage) GetResponses(ctx context.Context, sessionID string) ([]guide.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.session_id, r.item_id, r.status, r.quantity, r.previous_on_hand, r.difference, r.note, r.transcript, r.recorded_at
		FROM responses r
		LEFT JOIN session_items i ON i.session_id = r.session_id AND i.item_id = r.item_id
		WHERE r.session_id = ?
		ORDER BY COALESCE(i.position, 2147483647), r.item_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	return s.scanResponseRows(rows)
}

// GetResponse returns the response for one item
func (s *ResponseStorage) GetResponse(ctx context.Context, sessionID, itemID string) (*guide.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, item_id, status, quantity, previous_on_hand, difference, note, transcript, recorded_at
		FROM responses
		WHERE session_id = ? AND item_id = ?`,
		sessionID, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query response: %w", err)
	}
	defer rows.Close()

	responses, err := s.scanResponseRows(rows)
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("response %s/%s: %w", sessionID, itemID, ErrNotFound)
	}
	return &responses[0], nil
}

// CountByStatus tallies a session's responses by status
func (s *ResponseStorage) CountByStatus(ctx context.Context, sessionID string) (map[guide.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM responses WHERE session_id = ? GROUP BY status`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count responses: %w", err)
	}
	defer rows.Close()

	counts := make(map[guide.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan response count: %w", err)
		}
		counts[guide.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read response counts: %w", err)
	}

	return counts, nil
}

// scanResponseRows scans database rows into responses
func (s *ResponseStorage) scanResponseRows(rows *sql.Rows) ([]guide.Response, error) {
	responses := []guide.Response{}
	for rows.Next() {
		var (
			resp       guide.Response
			status     string
			quantity   sql.NullFloat64
			previous   sql.NullFloat64
			difference sql.NullFloat64
			note       sql.NullString
			transcript sql.NullString
			recordedAt string
		)

		if err := rows.Scan(
			&resp.SessionID,
			&resp.ItemID,
			&status,
			&quantity,
			&previous,
			&difference,
			&note,
			&transcript,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}

		resp.Status = guide.Status(status)
		resp.Quantity = nullFloat(quantity)
		resp.PreviousOnHand = nullFloat(previous)
		resp.Difference = nullFloat(difference)
		resp.Note = note.String
		resp.Transcript = transcript.String

		var err error
		resp.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}

		responses = append(responses, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read responses: %w", err)
	}

	return responses, nil
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
