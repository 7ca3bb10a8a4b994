package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/shiftcheck/pkg/logger"
)

// OnHandStorage holds the bottle count of each item as of the last
// completed inventory walk that counted it
type OnHandStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewOnHandStorage creates the on_hand table if needed
func NewOnHandStorage(db *sql.DB, log *logger.Logger) (*OnHandStorage, error) {
	storage := &OnHandStorage{
		db:     db,
		logger: log.Named("sqlite-onhand"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize on-hand storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *OnHandStorage) initDB() error {
	return createSchema(s.db,
		`CREATE TABLE IF NOT EXISTS on_hand (
			item_id TEXT PRIMARY KEY,
			quantity REAL NOT NULL,
			session_id TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	)
}

// GetOnHand returns the current count of one item
func (s *OnHandStorage) GetOnHand(ctx context.Context, itemID string) (*OnHandRecord, error) {
	var (
		record    OnHandRecord
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, quantity, session_id, updated_at FROM on_hand WHERE item_id = ?`,
		itemID,
	).Scan(&record.ItemID, &record.Quantity, &record.SessionID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("on-hand %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query on-hand count: %w", err)
	}

	record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &record, nil
}

// ListOnHand returns every counted item ordered by id
func (s *OnHandStorage) ListOnHand(ctx context.Context) ([]OnHandRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, quantity, session_id, updated_at FROM on_hand ORDER BY item_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query on-hand counts: %w", err)
	}
	defer rows.Close()

	records := []OnHandRecord{}
	for rows.Next() {
		var (
			record    OnHandRecord
			updatedAt string
		)
		if err := rows.Scan(&record.ItemID, &record.Quantity, &record.SessionID, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan on-hand count: %w", err)
		}
		record.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read on-hand counts: %w", err)
	}

	return records, nil
}

// applyCounts copies a session's counted quantities into on_hand
func applyCounts(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO on_hand (item_id, quantity, session_id, updated_at)
		SELECT item_id, quantity, session_id, ?
		FROM responses
		WHERE session_id = ? AND quantity IS NOT NULL
		ON CONFLICT (item_id) DO UPDATE SET
			quantity = excluded.quantity,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		now.Format(time.RFC3339),
		sessionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update on-hand counts: %w", err)
	}
	return result.RowsAffected()
}
