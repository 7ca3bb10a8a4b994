// Package sqlite stores sessions, responses and photo logs in SQLite
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yegors/shiftcheck/pkg/logger"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Open opens or creates the database at path
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == MemoryPath {
		dsn = MemoryPath + "?_pragma=foreign_keys(on)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Store groups the table storages over one database
type Store struct {
	DB        *sql.DB
	Sessions  *SessionStorage
	Responses *ResponseStorage
	OnHand    *OnHandStorage
	Photos    *PhotoLogStorage
}

// NewStore opens the database and initializes every table
func NewStore(path string, log *logger.Logger) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}

	sessions, err := NewSessionStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	responses, err := NewResponseStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	onHand, err := NewOnHandStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	photos, err := NewPhotoLogStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Named("sqlite").Info("Opened database", logger.String("path", path))

	return &Store{
		DB:        db,
		Sessions:  sessions,
		Responses: responses,
		OnHand:    onHand,
		Photos:    photos,
	}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.DB.Close()
}

// createSchema runs table and index statements in order
func createSchema(db *sql.DB, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
