package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/filesync/internal/db"
	"github.com/openmined/filesync/internal/syncmeta"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
    id TEXT PRIMARY KEY,
    public_key TEXT NOT NULL,
    last_sync TEXT NOT NULL -- RFC3339 string
);

CREATE TABLE IF NOT EXISTS files (
    relative_path TEXT PRIMARY KEY,
    last_write_time_utc TEXT NOT NULL,
    creation_time_utc TEXT NOT NULL,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    size INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_files_is_deleted ON files(is_deleted);
`

const pragmas = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=FULL;
`

type dbClient struct {
	ID        string `db:"id"`
	PublicKey string `db:"public_key"`
	LastSync  string `db:"last_sync"`
}

type dbFile struct {
	RelativePath string `db:"relative_path"`
	LastWrite    string `db:"last_write_time_utc"`
	Creation     string `db:"creation_time_utc"`
	IsDeleted    bool   `db:"is_deleted"`
	Size         int64  `db:"size"`
}

// SQLiteStore is the MetadataStore backed by a SQLite file.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for a throwaway
// store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := db.NewSqliteDB(
		db.WithPath(path),
		db.WithPragmas(pragmas),
		// one long-lived connection serialises writers
		db.WithMaxOpenConns(1),
		db.WithMaxIdleConns(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize metadata schema: %w", err)
	}
	return &SQLiteStore{db: conn, now: time.Now}, nil
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*ClientRecord, error) {
	var row dbClient
	err := s.db.GetContext(ctx, &row, "SELECT id, public_key, last_sync FROM clients WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientUnknown
	} else if err != nil {
		return nil, fmt.Errorf("failed to query client %s: %w", id, err)
	}

	lastSync, err := time.Parse(time.RFC3339Nano, row.LastSync)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync for client %s: %w", id, err)
	}
	return &ClientRecord{ID: row.ID, PublicKey: row.PublicKey, LastSync: lastSync}, nil
}

func (s *SQLiteStore) RegisterClient(ctx context.Context, id, publicKey string) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO clients (id, public_key, last_sync)
		VALUES (:id, :public_key, :last_sync)`,
		dbClient{ID: id, PublicKey: publicKey, LastSync: formatTime(s.now())})
	if err != nil {
		return fmt.Errorf("failed to register client %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) TouchClient(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE clients SET last_sync = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update client %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrClientUnknown
	}
	return nil
}

func (s *SQLiteStore) UnregisterClient(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM clients WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to unregister client %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertFile(ctx context.Context, rec *syncmeta.FileRecord) error {
	if rec == nil {
		return errors.New("cannot upsert nil record")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO files (relative_path, last_write_time_utc, creation_time_utc, is_deleted, size)
		VALUES (:relative_path, :last_write_time_utc, :creation_time_utc, :is_deleted, :size)`,
		dbFile{
			RelativePath: rec.RelativePath,
			LastWrite:    formatTime(rec.LastModified),
			Creation:     formatTime(rec.Created),
			IsDeleted:    rec.Deleted,
			Size:         rec.Size,
		})
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.RelativePath, err)
	}
	return nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context) (syncmeta.ChangeSet, error) {
	var rows []dbFile
	err := s.db.SelectContext(ctx, &rows, `
		SELECT relative_path, last_write_time_utc, creation_time_utc, is_deleted, size
		FROM files ORDER BY relative_path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	out := make(syncmeta.ChangeSet, 0, len(rows))
	for _, row := range rows {
		lastWrite, err := time.Parse(time.RFC3339Nano, row.LastWrite)
		if err != nil {
			slog.Warn("skipping record with bad timestamp", "path", row.RelativePath, "value", row.LastWrite)
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, row.Creation)
		if err != nil {
			created = lastWrite
		}
		out = append(out, &syncmeta.FileRecord{
			RelativePath: row.RelativePath,
			LastModified: lastWrite.UTC(),
			Created:      created.UTC(),
			Deleted:      row.IsDeleted,
			Size:         row.Size,
		})
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close metadata store: %w", err)
	}
	slog.Debug("metadata store closed")
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
