package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hasferrr/mitsuko-client-sub003/internal/jsonstream"
	"github.com/hasferrr/mitsuko-client-sub003/internal/session"
)

// ErrNotFound is returned when no result is stored under an id.
var ErrNotFound = errors.New("result not found")

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps the final snapshot of finished sessions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer of a file name ("001_init.sql" is 1).
func migrationVersion(name string) int {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

// SaveResult upserts the snapshot of a finished session.
func (s *SQLiteStore) SaveResult(ctx context.Context, snap session.Snapshot) error {
	if strings.TrimSpace(snap.ID) == "" {
		return fmt.Errorf("result id is required")
	}
	if !snap.State.Terminal() {
		return fmt.Errorf("session %s is still %s", snap.ID, snap.State)
	}
	subtitles := snap.Subtitles
	if subtitles == nil {
		subtitles = []jsonstream.SubtitleRecord{}
	}
	payload, err := json.Marshal(subtitles)
	if err != nil {
		return fmt.Errorf("marshal subtitles: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO session_results (
			id, state, subtitles_json, raw, chunks, error, parse_failed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state,
			subtitles_json=excluded.subtitles_json,
			raw=excluded.raw,
			chunks=excluded.chunks,
			error=excluded.error,
			parse_failed=excluded.parse_failed,
			updated_at=excluded.updated_at`,
		snap.ID,
		string(snap.State),
		string(payload),
		snap.Raw,
		snap.Chunks,
		snap.Error,
		boolToInt(snap.ParseFailed),
		snap.CreatedAt.UTC(),
		snap.UpdatedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) LoadResult(ctx context.Context, id string) (session.Snapshot, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, state, subtitles_json, raw, chunks, error, parse_failed, created_at, updated_at
		 FROM session_results
		 WHERE id = ?`,
		id,
	)
	snap, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, ErrNotFound
	}
	return snap, err
}

func (s *SQLiteStore) DeleteResult(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_results WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListResults returns up to limit results, most recently finished first.
// A non-positive limit returns everything.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]session.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, state, subtitles_json, raw, chunks, error, parse_failed, created_at, updated_at
		 FROM session_results
		 ORDER BY updated_at DESC, id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]session.Snapshot, 0)
	for rows.Next() {
		snap, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (session.Snapshot, error) {
	var snap session.Snapshot
	var state string
	var subtitlesJSON string
	var parseFailed int
	if err := row.Scan(
		&snap.ID,
		&state,
		&subtitlesJSON,
		&snap.Raw,
		&snap.Chunks,
		&snap.Error,
		&parseFailed,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	); err != nil {
		return session.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(subtitlesJSON), &snap.Subtitles); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode subtitles of %s: %w", snap.ID, err)
	}
	snap.State = session.State(state)
	snap.ParseFailed = parseFailed != 0
	return snap, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
