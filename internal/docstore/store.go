// Package docstore keeps uploaded files and their metadata in SQLite.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned for unknown document ids.
var ErrNotFound = errors.New("document not found")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS files (
    id           TEXT PRIMARY KEY,
    filename     TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    length       INTEGER NOT NULL,
    uploaded_at  TEXT NOT NULL,
    metadata     TEXT NOT NULL DEFAULT '{}',
    data         BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_uploaded_at ON files(uploaded_at);
`

// FileInfo describes a stored file.
type FileInfo struct {
	ID          string         `json:"id"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type,omitempty"`
	Length      int64          `json:"length"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Store is a SQLite-backed file store.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the database at path. An empty path opens an
// in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := ":memory:"
	if path != "" {
		if strings.HasPrefix(path, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("getting home directory: %w", err)
			}
			path = filepath.Join(home, path[2:])
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == "" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores data and returns the new file id.
func (s *Store) Put(ctx context.Context, filename, contentType string, data []byte, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	md, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (id, filename, content_type, length, uploaded_at, metadata, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, filename, contentType, len(data), time.Now().UTC().Format(timeLayout), string(md), data)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", filename, err)
	}
	s.logger.Debug("stored file", zap.String("id", id), zap.String("filename", filename), zap.Int("bytes", len(data)))
	return id, nil
}

// Get returns a file's bytes and info.
func (s *Store) Get(ctx context.Context, id string) ([]byte, *FileInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, content_type, length, uploaded_at, metadata, data FROM files WHERE id = ?`, id)

	var (
		data []byte
		info FileInfo
		ts   string
		md   string
	)
	err := row.Scan(&info.ID, &info.Filename, &info.ContentType, &info.Length, &ts, &md, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", id, err)
	}
	if err := decodeInfo(&info, ts, md); err != nil {
		return nil, nil, err
	}
	return data, &info, nil
}

// List returns files newest first. nameContains filters case-insensitively
// on the filename.
func (s *Store) List(ctx context.Context, nameContains string, limit int) ([]FileInfo, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := `SELECT id, filename, content_type, length, uploaded_at, metadata FROM files`
	var args []any
	if nameContains != "" {
		q += ` WHERE instr(lower(filename), lower(?)) > 0`
		args = append(args, nameContains)
	}
	q += ` ORDER BY uploaded_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var out []FileInfo
	for rows.Next() {
		var (
			info FileInfo
			ts   string
			md   string
		)
		if err := rows.Scan(&info.ID, &info.Filename, &info.ContentType, &info.Length, &ts, &md); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		if err := decodeInfo(&info, ts, md); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a file.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func decodeInfo(info *FileInfo, ts, md string) error {
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return fmt.Errorf("parsing upload time of %s: %w", info.ID, err)
	}
	info.UploadedAt = t
	if err := json.Unmarshal([]byte(md), &info.Metadata); err != nil {
		return fmt.Errorf("decoding metadata of %s: %w", info.ID, err)
	}
	return nil
}
