package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/venuevision/venuestudio/internal/models"
)

var ErrDocumentNotFound = errors.New("document not found")

const (
	kindScene   = "scene"
	kindSession = "session"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    kind       TEXT NOT NULL,
    key        TEXT NOT NULL,
    body       TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (kind, key)
);`

// DocumentStore persists exported scenes and edit sessions as JSON documents
// in SQLite so they survive restarts.
type DocumentStore struct {
	db *sql.DB
}

// OpenDocuments opens (creating if needed) the database at dbPath and
// applies the schema.
func OpenDocuments(ctx context.Context, dbPath string) (*DocumentStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DocumentStore{db: db}, nil
}

func (d *DocumentStore) Close() error {
	return d.db.Close()
}

func (d *DocumentStore) SaveScene(ctx context.Context, projectID string, data models.SceneData) error {
	return d.put(ctx, kindScene, projectID, data)
}

func (d *DocumentStore) LoadScene(ctx context.Context, projectID string) (models.SceneData, error) {
	var data models.SceneData
	err := d.get(ctx, kindScene, projectID, &data)
	return data, err
}

func (d *DocumentStore) SaveSession(ctx context.Context, session models.EditSession) error {
	return d.put(ctx, kindSession, session.ID, session)
}

func (d *DocumentStore) LoadSession(ctx context.Context, sessionID string) (models.EditSession, error) {
	var session models.EditSession
	err := d.get(ctx, kindSession, sessionID, &session)
	return session, err
}

// ListSessions returns every stored session ordered by key.
func (d *DocumentStore) ListSessions(ctx context.Context) ([]models.EditSession, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, body FROM documents WHERE kind = ? ORDER BY key`, kindSession)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.EditSession
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var session models.EditSession
		if err := json.Unmarshal([]byte(body), &session); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", key, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (d *DocumentStore) DeleteSession(ctx context.Context, sessionID string) error {
	return d.delete(ctx, kindSession, sessionID)
}

func (d *DocumentStore) DeleteScene(ctx context.Context, projectID string) error {
	return d.delete(ctx, kindScene, projectID)
}

func (d *DocumentStore) delete(ctx context.Context, kind, key string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM documents WHERE kind = ? AND key = ?`, kind, key)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, key, err)
	}
	return nil
}

func (d *DocumentStore) put(ctx context.Context, kind, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, key, err)
	}
	_, err = d.db.ExecContext(ctx, `
        INSERT INTO documents (kind, key, body, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (kind, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
    `, kind, key, string(body), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save %s %s: %w", kind, key, err)
	}
	return nil
}

func (d *DocumentStore) get(ctx context.Context, kind, key string, v any) error {
	var body string
	row := d.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE kind = ? AND key = ?`, kind, key)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s %s", ErrDocumentNotFound, kind, key)
		}
		return fmt.Errorf("load %s %s: %w", kind, key, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, key, err)
	}
	return nil
}
