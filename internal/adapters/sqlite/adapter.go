// Package sqlite provides a SQLite-backed recording store.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously
	"lukechampine.com/blake3"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Adapter implements ports.RecordingStore for SQLite. Recordings are keyed by
// a random ID and deduplicated by the blake3 hash of their bytes.
type Adapter struct {
	db *sql.DB
}

var _ ports.RecordingStore = (*Adapter)(nil)

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// :memory: databases are per connection.
	if storagePath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	adapter := &Adapter{db: db}
	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Put stores rec and returns its key. Storing the same bytes again returns
// the key issued the first time.
func (a *Adapter) Put(ctx context.Context, rec ports.Recording) (domain.RecordingReference, error) {
	if len(rec.Data) == 0 {
		return "", errors.New("sqlite: refusing to store empty recording")
	}
	hash, err := contentHash(bytes.NewReader(rec.Data))
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	var key string
	err = a.db.QueryRowContext(ctx, `
		INSERT INTO recordings (id, name, content_type, blake3_hash, size, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(blake3_hash) DO UPDATE SET blake3_hash = excluded.blake3_hash
		RETURNING id
	`, id, rec.Name, rec.ContentType, hash, len(rec.Data), rec.Data).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("sqlite: persisting recording: %w", err)
	}
	return domain.RecordingReference(key), nil
}

// Retrieve returns the bytes stored under ref, or domain.ErrRecordingNotFound.
func (a *Adapter) Retrieve(ctx context.Context, ref domain.RecordingReference) ([]byte, error) {
	var data []byte
	err := a.db.QueryRowContext(ctx, "SELECT data FROM recordings WHERE id = ?", ref.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sqlite: recording %q: %w", ref, domain.ErrRecordingNotFound)
		}
		return nil, fmt.Errorf("sqlite: loading recording %q: %w", ref, err)
	}
	return data, nil
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		name TEXT,
		content_type TEXT,
		blake3_hash TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := a.db.Exec(query)
	return err
}

func contentHash(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("sqlite: hashing recording: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
