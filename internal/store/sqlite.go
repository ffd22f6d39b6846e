package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// SQLiteStore implements Store on an embedded SQLite database in WAL mode.
// Every Put/Delete is durable immediately, so Persist is a no-op.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
	listStmt   *sql.Stmt
}

// OpenSQLite opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for tests.
func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening event database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	return s, nil
}

const eventColumns = `id, title, description, location, start_at, end_at, all_day,
	completed, source, remote_url, remote_uid, remote_etag,
	needs_push, needs_delete, created_at, updated_at`

func (s *SQLiteStore) prepareStatements(ctx context.Context) error {
	var err error

	s.getStmt, err = s.db.PrepareContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`)
	if err != nil {
		return err
	}

	s.upsertStmt, err = s.db.PrepareContext(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			all_day = excluded.all_day,
			completed = excluded.completed,
			source = excluded.source,
			remote_url = excluded.remote_url,
			remote_uid = excluded.remote_uid,
			remote_etag = excluded.remote_etag,
			needs_push = excluded.needs_push,
			needs_delete = excluded.needs_delete,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}

	s.deleteStmt, err = s.db.PrepareContext(ctx, `DELETE FROM events WHERE id = ?`)
	if err != nil {
		return err
	}

	s.listStmt, err = s.db.PrepareContext(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY start_at, id`)

	return err
}

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var (
		ev                   Event
		startAt, endAt       string
		createdAt, updatedAt string
	)

	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Location,
		&startAt, &endAt, &ev.AllDay, &ev.Completed, &ev.Source,
		&ev.RemoteURL, &ev.RemoteUID, &ev.RemoteETag,
		&ev.NeedsPush, &ev.NeedsDelete, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{startAt, &ev.Start},
		{endAt, &ev.End},
		{createdAt, &ev.CreatedAt},
		{updatedAt, &ev.UpdatedAt},
	} {
		t, err := time.Parse(time.RFC3339Nano, f.raw)
		if err != nil {
			return nil, fmt.Errorf("store: bad timestamp %q: %w", f.raw, err)
		}
		*f.dst = t
	}

	return &ev, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Event, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Event, error) {
	ev, err := scanEvent(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: get event %s: %w", id, err)
	}

	return ev, nil
}

func (s *SQLiteStore) Put(ctx context.Context, ev *Event) error {
	_, err := s.upsertStmt.ExecContext(ctx,
		ev.ID, ev.Title, ev.Description, ev.Location,
		ev.Start.UTC().Format(time.RFC3339Nano),
		ev.End.UTC().Format(time.RFC3339Nano),
		ev.AllDay, ev.Completed, ev.Source,
		ev.RemoteURL, ev.RemoteUID, ev.RemoteETag,
		ev.NeedsPush, ev.NeedsDelete,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		ev.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: put event %s: %w", ev.ID, err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.deleteStmt.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("store: delete event %s: %w", id, err)
	}

	return nil
}

// Persist is a no-op: SQLite is durable per write.
func (s *SQLiteStore) Persist(_ context.Context) error {
	return nil
}

func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.upsertStmt, s.deleteStmt, s.listStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}
