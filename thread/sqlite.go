package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/speakmesh/core"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`PRAGMA busy_timeout = 5000`,
	`CREATE TABLE IF NOT EXISTS threads (
    id         TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS messages (
    thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    turn_id    TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (thread_id, position)
)`,
	`CREATE INDEX IF NOT EXISTS messages_turn_idx ON messages (thread_id, turn_id)`,
	`CREATE TABLE IF NOT EXISTS corrections (
    thread_id        TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
    message_position INTEGER NOT NULL,
    original         TEXT NOT NULL,
    corrected        TEXT NOT NULL,
    issues           TEXT NOT NULL,
    explanation      TEXT NOT NULL,
    unavailable      INTEGER NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL,
    PRIMARY KEY (thread_id, message_position)
)`,
}

// SQLiteStore is a durable ThreadStore on a single SQLite database file.
// Writes go through one connection; cross-turn serialization per thread is
// provided by an in-process Locker, so one database file must not be shared
// by several server processes.
type SQLiteStore struct {
	db     *sql.DB
	locker *Locker
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, locker: NewLocker()}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates missing tables and indexes.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create allocates an empty thread.
func (s *SQLiteStore) Create(ctx context.Context, id string) (*core.Thread, error) {
	if err := core.ValidateID(id); err != nil {
		return nil, err
	}
	th := core.NewThread(id)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		id, th.Created.UnixNano(), th.Updated.UnixNano())
	if err != nil {
		return nil, unavailable("create thread", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrThreadExists, id)
	}
	return th, nil
}

// Get loads the thread with its messages and corrections.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Thread, error) {
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM threads WHERE id = ?`, id).Scan(&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrThreadNotFound
	}
	if err != nil {
		return nil, unavailable("get thread", err)
	}
	th := &core.Thread{ID: id, Messages: []core.Message{}, Corrections: []core.Correction{}, Created: time.Unix(0, created), Updated: time.Unix(0, updated)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, role, content, turn_id, created_at FROM messages WHERE thread_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, unavailable("get messages", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m  core.Message
			ts int64
		)
		if err := rows.Scan(&m.Position, &m.Role, &m.Content, &m.TurnID, &ts); err != nil {
			return nil, unavailable("scan message", err)
		}
		m.Created = time.Unix(0, ts)
		th.Messages = append(th.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read messages", err)
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT message_position, original, corrected, issues, explanation, unavailable, created_at
           FROM corrections WHERE thread_id = ? ORDER BY created_at, message_position`, id)
	if err != nil {
		return nil, unavailable("get corrections", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			c      core.Correction
			issues string
			ts     int64
		)
		if err := crows.Scan(&c.MessagePosition, &c.Original, &c.Corrected, &issues, &c.Explanation, &c.Unavailable, &ts); err != nil {
			return nil, unavailable("scan correction", err)
		}
		if err := json.Unmarshal([]byte(issues), &c.Issues); err != nil {
			return nil, fmt.Errorf("decode correction issues: %w", err)
		}
		c.Created = time.Unix(0, ts)
		th.Corrections = append(th.Corrections, c)
	}
	if err := crows.Err(); err != nil {
		return nil, unavailable("read corrections", err)
	}
	return th, nil
}

// AppendMessage appends msg at the next position inside one transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg core.Message) (int, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	if msg.Created.IsZero() {
		msg.Created = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if err := touchThread(ctx, tx, id, msg.Created); err != nil {
		return 0, err
	}
	var pos int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM messages WHERE thread_id = ?`, id).Scan(&pos); err != nil {
		return 0, unavailable("next position", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (thread_id, position, role, content, turn_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, pos, string(msg.Role), msg.Content, msg.TurnID, msg.Created.UnixNano()); err != nil {
		return 0, unavailable("insert message", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit message", err)
	}
	return pos, nil
}

// MergeCorrection attaches c to the user message it references.
func (s *SQLiteStore) MergeCorrection(ctx context.Context, id string, c core.Correction) error {
	if c.Created.IsZero() {
		c.Created = time.Now()
	}
	issues, err := json.Marshal(nonNilIssues(c.Issues))
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if err := touchThread(ctx, tx, id, c.Created); err != nil {
		return err
	}
	var role string
	err = tx.QueryRowContext(ctx, `SELECT role FROM messages WHERE thread_id = ? AND position = ?`, id, c.MessagePosition).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: position %d", core.ErrInvalidReference, c.MessagePosition)
	}
	if err != nil {
		return unavailable("load message", err)
	}
	if core.Role(role) != core.RoleUser {
		return fmt.Errorf("%w: position %d is an %s message", core.ErrInvalidReference, c.MessagePosition, role)
	}
	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM corrections WHERE thread_id = ? AND message_position = ?`, id, c.MessagePosition).Scan(&existing); err != nil {
		return unavailable("check correction", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: position %d", core.ErrDuplicateCorrection, c.MessagePosition)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO corrections (thread_id, message_position, original, corrected, issues, explanation, unavailable, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.MessagePosition, c.Original, c.Corrected, string(issues), c.Explanation, c.Unavailable, c.Created.UnixNano()); err != nil {
		return unavailable("insert correction", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit correction", err)
	}
	return nil
}

// Delete removes the thread with all messages and corrections.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed
	for _, stmt := range []string{
		`DELETE FROM corrections WHERE thread_id = ?`,
		`DELETE FROM messages WHERE thread_id = ?`,
		`DELETE FROM threads WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return unavailable("delete thread", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit delete", err)
	}
	return nil
}

// Lock serializes writers of one thread within this process.
func (s *SQLiteStore) Lock(ctx context.Context, id string) (func(), error) {
	return s.locker.Lock(ctx, id)
}

func touchThread(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return unavailable("touch thread", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrThreadNotFound
	}
	return nil
}

func nonNilIssues(issues []string) []string {
	if issues == nil {
		return []string{}
	}
	return issues
}
