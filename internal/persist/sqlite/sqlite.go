// Package sqlite is the durable persist.Backend, an embedded SQLite database
// in WAL mode.
//
// Layout:
//   - Database file: .tsync/tasks.db
//   - One table per entity kind; seq is the AUTOINCREMENT row key and the
//     public id is the kind prefix plus seq (item_42, project_7)
//   - Labels are a JSON array column on tasks
//
// Batch calls run in one transaction, so a failed group leaves no partial rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// DB wraps the database connection.
type DB struct {
	conn   *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for close-time warnings.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithClock overrides the clock used for normalized timestamps.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// Open creates or opens the database at path and initializes the schema.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_pragma=journal_mode(wal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(on)" +
		"&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn("failed to checkpoint WAL", "path", db.path, "error", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		is_favorite INTEGER NOT NULL DEFAULT 0,
		child_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sections (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		section_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS labels (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		item_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tasks (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		section_id TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		child_order INTEGER NOT NULL DEFAULT 0,
		labels TEXT NOT NULL DEFAULT '[]',  -- JSON array of label names
		priority INTEGER NOT NULL DEFAULT 1,
		checked INTEGER NOT NULL DEFAULT 0,
		pinned INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		due_date TEXT,
		due_string TEXT NOT NULL DEFAULT '',
		due_recurring INTEGER NOT NULL DEFAULT 0,
		added_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_section ON tasks(section_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_open_due ON tasks(checked, due_date);
	CREATE INDEX IF NOT EXISTS idx_sections_project ON sections(project_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Count returns the number of rows stored for kind.
func (db *DB) Count(kind types.Kind) (int, error) {
	return db.CountContext(context.Background(), kind)
}

// CountContext returns the number of rows with context support.
func (db *DB) CountContext(ctx context.Context, kind types.Kind) (int, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl.name).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", tbl.name, err)
	}
	return count, nil
}

// Insert implements persist.Backend.
func (db *DB) Insert(ctx context.Context, e types.Entity) (types.Entity, error) {
	var out types.Entity
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = db.insertTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, persist.Wrap(persist.OpInsert, e.Kind(), e.EntityID(), err)
	}
	return out, nil
}

// Update implements persist.Backend.
func (db *DB) Update(ctx context.Context, e types.Entity) (types.Entity, error) {
	var out types.Entity
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = db.updateTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, persist.Wrap(persist.OpUpdate, e.Kind(), e.EntityID(), err)
	}
	return out, nil
}

// Delete implements persist.Backend.
func (db *DB) Delete(ctx context.Context, kind types.Kind, id string) error {
	if db.conn == nil {
		return persist.Wrap(persist.OpDelete, kind, id, persist.ErrClosed)
	}
	tbl, err := tableFor(kind)
	if err != nil {
		return persist.Wrap(persist.OpDelete, kind, id, err)
	}
	res, err := db.conn.ExecContext(ctx, "DELETE FROM "+tbl.name+" WHERE id = ?", id)
	if err != nil {
		return persist.Wrap(persist.OpDelete, kind, id, classify(fmt.Errorf("failed to delete: %w", err)))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persist.Wrap(persist.OpDelete, kind, id, persist.ErrNotFound)
	}
	return nil
}

// InsertMany implements persist.Backend.
func (db *DB) InsertMany(ctx context.Context, es []types.Entity) ([]types.Entity, error) {
	out := make([]types.Entity, len(es))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i, e := range es {
			stored, err := db.insertTx(ctx, tx, e)
			if err != nil {
				return err
			}
			out[i] = stored
		}
		return nil
	})
	if err != nil {
		return nil, persist.Wrap(persist.OpInsertMany, batchKind(es), "", err)
	}
	return out, nil
}

// UpdateMany implements persist.Backend.
func (db *DB) UpdateMany(ctx context.Context, es []types.Entity) ([]types.Entity, error) {
	out := make([]types.Entity, len(es))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i, e := range es {
			stored, err := db.updateTx(ctx, tx, e)
			if err != nil {
				return err
			}
			out[i] = stored
		}
		return nil
	})
	if err != nil {
		return nil, persist.Wrap(persist.OpUpdateMany, batchKind(es), "", err)
	}
	return out, nil
}

// DeleteMany implements persist.Backend.
func (db *DB) DeleteMany(ctx context.Context, refs []types.Ref) error {
	var kind types.Kind
	if len(refs) > 0 {
		kind = refs[0].Kind
	}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, ref := range refs {
			tbl, err := tableFor(ref.Kind)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+tbl.name+" WHERE id = ?", ref.ID); err != nil {
				return fmt.Errorf("failed to delete %s: %w", ref, err)
			}
		}
		return nil
	})
	return persist.Wrap(persist.OpDeleteMany, kind, "", err)
}

// ToggleCompleteMany implements persist.Backend.
func (db *DB) ToggleCompleteMany(ctx context.Context, ids []string, checked bool, at time.Time) ([]*types.Task, error) {
	out := make([]*types.Task, len(ids))
	query := `
	UPDATE tasks SET
		checked = ?,
		completed_at = CASE WHEN ? THEN COALESCE(completed_at, ?) ELSE NULL END,
		updated_at = ?
	WHERE id = ?
	`
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stamp := formatTime(at)
		for i, id := range ids {
			res, err := tx.ExecContext(ctx, query, checked, checked, stamp, stamp, id)
			if err != nil {
				return fmt.Errorf("failed to toggle %s: %w", id, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return &persist.Error{Op: persist.OpToggleCompleteMany, Kind: types.KindTask, ID: id, Err: persist.ErrNotFound}
			}
			e, err := selectByID(ctx, tx, taskTable, id)
			if err != nil {
				return err
			}
			out[i] = e.(*types.Task)
		}
		return nil
	})
	if err != nil {
		return nil, persist.Wrap(persist.OpToggleCompleteMany, types.KindTask, "", err)
	}
	return out, nil
}

// Load implements persist.Backend.
func (db *DB) Load(ctx context.Context) (*persist.Snapshot, error) {
	if db.conn == nil {
		return nil, persist.Wrap(persist.OpLoad, types.KindTask, "", persist.ErrClosed)
	}
	snap := &persist.Snapshot{}
	for _, kind := range types.Kinds {
		tbl, err := tableFor(kind)
		if err != nil {
			return nil, err
		}
		rows, err := db.conn.QueryContext(ctx, "SELECT id, "+strings.Join(tbl.columns, ", ")+" FROM "+tbl.name+" ORDER BY seq")
		if err != nil {
			return nil, persist.Wrap(persist.OpLoad, kind, "", fmt.Errorf("failed to query %s: %w", tbl.name, err))
		}
		err = scanAll(rows, tbl, snap.Add)
		rows.Close()
		if err != nil {
			return nil, persist.Wrap(persist.OpLoad, kind, "", err)
		}
	}
	return snap, nil
}

// insertTx stores e and assigns its canonical id from the row's seq.
func (db *DB) insertTx(ctx context.Context, tx *sql.Tx, e types.Entity) (types.Entity, error) {
	tbl, err := tableFor(e.Kind())
	if err != nil {
		return nil, err
	}
	e = persist.Normalize(e, db.now())
	args, err := tbl.values(e)
	if err != nil {
		return nil, err
	}

	placeholder := "pending_" + types.NewTempID()
	query := fmt.Sprintf("INSERT INTO %s (id, %s) VALUES (?%s)",
		tbl.name, strings.Join(tbl.columns, ", "), strings.Repeat(", ?", len(tbl.columns)))
	res, err := tx.ExecContext(ctx, query, append([]any{placeholder}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", e.Kind(), err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read row id: %w", err)
	}

	id := fmt.Sprintf("%s%d", e.Kind().IDPrefix(), seq)
	if _, err := tx.ExecContext(ctx, "UPDATE "+tbl.name+" SET id = ? WHERE seq = ?", id, seq); err != nil {
		return nil, fmt.Errorf("failed to assign id %s: %w", id, err)
	}
	return selectByID(ctx, tx, tbl, id)
}

// updateTx writes every mutable column of e and returns the stored row.
func (db *DB) updateTx(ctx context.Context, tx *sql.Tx, e types.Entity) (types.Entity, error) {
	tbl, err := tableFor(e.Kind())
	if err != nil {
		return nil, err
	}
	e = persist.Normalize(e, db.now())
	all, err := tbl.values(e)
	if err != nil {
		return nil, err
	}

	var sets []string
	var args []any
	for i, col := range tbl.columns {
		if col == "added_at" {
			continue
		}
		sets = append(sets, col+" = ?")
		args = append(args, all[i])
	}
	args = append(args, e.EntityID())

	res, err := tx.ExecContext(ctx, "UPDATE "+tbl.name+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", e.Kind(), e.EntityID(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, &persist.Error{Op: persist.OpUpdate, Kind: e.Kind(), ID: e.EntityID(), Err: persist.ErrNotFound}
	}
	return selectByID(ctx, tx, tbl, e.EntityID())
}

// withTx runs fn in a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if db.conn == nil {
		return persist.ErrClosed
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classify tags lock contention with persist.ErrBusy and a closed pool with
// persist.ErrClosed.
func classify(err error) error {
	switch {
	case errors.Is(err, sqlite3.BUSY), errors.Is(err, sqlite3.LOCKED):
		return fmt.Errorf("%w: %w", persist.ErrBusy, err)
	case errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %w", persist.ErrClosed, err)
	default:
		return err
	}
}

func selectByID(ctx context.Context, tx *sql.Tx, tbl *table, id string) (types.Entity, error) {
	row := tx.QueryRowContext(ctx, "SELECT id, "+strings.Join(tbl.columns, ", ")+" FROM "+tbl.name+" WHERE id = ?", id)
	e, err := tbl.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", id, err)
	}
	return e, nil
}

func scanAll(rows *sql.Rows, tbl *table, add func(types.Entity)) error {
	for rows.Next() {
		e, err := tbl.scan(rows)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", tbl.name, err)
		}
		add(e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s: %w", tbl.name, err)
	}
	return nil
}

func batchKind(es []types.Entity) types.Kind {
	if len(es) == 0 {
		return types.KindTask
	}
	return es[0].Kind()
}

var _ persist.Backend = (*DB)(nil)
