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

// SessionStorage handles sessions and their ordered items
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates the session tables if needed
func NewSessionStorage(db *sql.DB, log *logger.Logger) (*SessionStorage, error) {
	storage := &SessionStorage{
		db:     db,
		logger: log.Named("sqlite-sess"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize session storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *SessionStorage) initDB() error {
	return createSchema(s.db,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			end_reason TEXT,
			position INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_items (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			critical INTEGER NOT NULL DEFAULT 0,
			size_ml INTEGER NOT NULL DEFAULT 0,
			par_level REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, item_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_session_items_position ON session_items(session_id, position)`,
	)
}

// CreateSession stores a new session and its items in one transaction
func (s *SessionStorage) CreateSession(ctx context.Context, session guide.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, mode, status, position, created_at) VALUES (?, ?, ?, 0, ?)`,
		session.ID,
		string(session.Mode),
		SessionOpen,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, item := range session.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_items (session_id, item_id, position, text, critical, size_ml, par_level)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			item.ID,
			i,
			item.Text,
			item.Critical,
			item.SizeML,
			item.ParLevel,
		)
		if err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	s.logger.Debug("Created session",
		logger.String("session_id", session.ID),
		logger.String("mode", string(session.Mode)),
		logger.Int("items", len(session.Items)))
	return nil
}

// GetSession returns a session with its items in walk order
func (s *SessionStorage) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var (
		record    SessionRecord
		mode      string
		endReason sql.NullString
		createdAt string
		endedAt   sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, status, end_reason, position, created_at, ended_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&record.ID, &mode, &record.Status, &endReason, &record.Position, &createdAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	record.Mode = guide.Mode(mode)
	if endReason.Valid {
		record.EndReason = guide.StopReason(endReason.String)
	}

	// Parse timestamps
	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		record.EndedAt = &t
	}

	record.Items, err = s.getItems(ctx, id)
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *SessionStorage) getItems(ctx context.Context, sessionID string) ([]guide.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, text, critical, size_ml, par_level
		FROM session_items
		WHERE session_id = ?
		ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session items: %w", err)
	}
	defer rows.Close()

	items := []guide.Item{}
	for rows.Next() {
		var item guide.Item
		if err := rows.Scan(&item.ID, &item.Text, &item.Critical, &item.SizeML, &item.ParLevel); err != nil {
			return nil, fmt.Errorf("failed to scan session item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session items: %w", err)
	}

	return items, nil
}

// MarkEnded records how and where a walk over the session ended. A
// completed inventory walk also becomes the new on-hand count of every
// item it counted.
func (s *SessionStorage) MarkEnded(ctx context.Context, id string, outcome guide.Outcome) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var mode string
	err = tx.QueryRowContext(ctx, `SELECT mode FROM sessions WHERE id = ?`, id).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions
		SET status = ?, end_reason = ?, position = ?, ended_at = ?
		WHERE id = ?`,
		SessionEnded,
		string(outcome.Reason),
		outcome.Position,
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	var counted int64
	if guide.Mode(mode) == guide.ModeInventory && outcome.Reason == guide.ReasonCompleted {
		counted, err = applyCounts(ctx, tx, id, now)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session end: %w", err)
	}

	if counted > 0 {
		s.logger.Info("Updated on-hand counts",
			logger.String("session_id", id),
			logger.Int64("items", counted))
	}
	return nil
}
