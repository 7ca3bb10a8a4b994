package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/shiftcheck/pkg/logger"
)

// PhotoLogStorage records every analyzed photo
type PhotoLogStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPhotoLogStorage creates the photo_logs table if needed
func NewPhotoLogStorage(db *sql.DB, log *logger.Logger) (*PhotoLogStorage, error) {
	storage := &PhotoLogStorage{
		db:     db,
		logger: log.Named("sqlite-photo"),
	}

	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize photo log storage: %w", err)
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *PhotoLogStorage) initDB() error {
	return createSchema(s.db,
		`CREATE TABLE IF NOT EXISTS photo_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			photo_path TEXT NOT NULL,
			provider TEXT NOT NULL,
			result TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_photo_logs_session_id ON photo_logs(session_id)`,
	)
}

// StorePhotoLog stores a photo log record and returns its ID
func (s *PhotoLogStorage) StorePhotoLog(ctx context.Context, record *PhotoLogRecord) (int64, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO photo_logs (session_id, item_id, photo_path, provider, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.ItemID,
		record.PhotoPath,
		record.Provider,
		nullString(record.Result),
		record.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert photo log: %w", err)
	}

	// Get ID
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// GetPhotoLogs returns a session's photo logs, oldest first
func (s *PhotoLogStorage) GetPhotoLogs(ctx context.Context, sessionID string) ([]*PhotoLogRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, item_id, photo_path, provider, result, created_at
		FROM photo_logs
		WHERE session_id = ?
		ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query photo logs: %w", err)
	}
	defer rows.Close()

	var records []*PhotoLogRecord
	for rows.Next() {
		var record PhotoLogRecord
		var result sql.NullString
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.ItemID,
			&record.PhotoPath,
			&record.Provider,
			&result,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan photo log: %w", err)
		}

		record.Result = result.String
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read photo logs: %w", err)
	}

	return records, nil
}
