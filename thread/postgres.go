package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/speakmesh/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS speakmesh_threads (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS speakmesh_messages (
    thread_id  TEXT NOT NULL REFERENCES speakmesh_threads(id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    turn_id    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (thread_id, position)
);
CREATE INDEX IF NOT EXISTS speakmesh_messages_turn_idx ON speakmesh_messages (thread_id, turn_id);
CREATE TABLE IF NOT EXISTS speakmesh_corrections (
    thread_id        TEXT NOT NULL REFERENCES speakmesh_threads(id) ON DELETE CASCADE,
    message_position INTEGER NOT NULL,
    original         TEXT NOT NULL,
    corrected        TEXT NOT NULL,
    issues           JSONB NOT NULL DEFAULT '[]'::jsonb,
    explanation      TEXT NOT NULL,
    unavailable      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (thread_id, message_position)
);
`

// PostgresStore is a ThreadStore on PostgreSQL. Thread locks are session
// level advisory locks, so the single-writer guarantee holds across every
// process sharing the database.
type PostgresStore struct {
	pool  *pgxpool.Pool
	local *Locker
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres store requires pool")
	}
	return &PostgresStore{pool: pool, local: NewLocker()}, nil
}

// OpenPostgres connects to dsn and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres schema: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Create allocates an empty thread.
func (s *PostgresStore) Create(ctx context.Context, id string) (*core.Thread, error) {
	if err := core.ValidateID(id); err != nil {
		return nil, err
	}
	th := core.NewThread(id)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO speakmesh_threads (id, created_at, updated_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		id, th.Created, th.Updated)
	if err != nil {
		return nil, unavailable("create thread", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrThreadExists, id)
	}
	return th, nil
}

// Get loads the thread with its messages and corrections.
func (s *PostgresStore) Get(ctx context.Context, id string) (*core.Thread, error) {
	th := &core.Thread{ID: id, Messages: []core.Message{}, Corrections: []core.Correction{}}
	err := s.pool.QueryRow(ctx, `SELECT created_at, updated_at FROM speakmesh_threads WHERE id = $1`, id).Scan(&th.Created, &th.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrThreadNotFound
	}
	if err != nil {
		return nil, unavailable("get thread", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT position, role, content, turn_id, created_at FROM speakmesh_messages WHERE thread_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, unavailable("get messages", err)
	}
	for rows.Next() {
		var (
			m    core.Message
			role string
		)
		if err := rows.Scan(&m.Position, &role, &m.Content, &m.TurnID, &m.Created); err != nil {
			rows.Close()
			return nil, unavailable("scan message", err)
		}
		m.Role = core.Role(role)
		th.Messages = append(th.Messages, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, unavailable("read messages", err)
	}

	crows, err := s.pool.Query(ctx,
		`SELECT message_position, original, corrected, issues, explanation, unavailable, created_at
           FROM speakmesh_corrections WHERE thread_id = $1 ORDER BY created_at, message_position`, id)
	if err != nil {
		return nil, unavailable("get corrections", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			c      core.Correction
			issues []byte
		)
		if err := crows.Scan(&c.MessagePosition, &c.Original, &c.Corrected, &issues, &c.Explanation, &c.Unavailable, &c.Created); err != nil {
			return nil, unavailable("scan correction", err)
		}
		if err := json.Unmarshal(issues, &c.Issues); err != nil {
			return nil, fmt.Errorf("decode correction issues: %w", err)
		}
		th.Corrections = append(th.Corrections, c)
	}
	if err := crows.Err(); err != nil {
		return nil, unavailable("read corrections", err)
	}
	return th, nil
}

// AppendMessage appends msg at the next position inside one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, id string, msg core.Message) (int, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	if msg.Created.IsZero() {
		msg.Created = time.Now()
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op if committed

	// Locking the thread row serializes position assignment.
	var exists bool
	err = tx.QueryRow(ctx, `SELECT TRUE FROM speakmesh_threads WHERE id = $1 FOR UPDATE`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, core.ErrThreadNotFound
	}
	if err != nil {
		return 0, unavailable("lock thread row", err)
	}
	var pos int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM speakmesh_messages WHERE thread_id = $1`, id).Scan(&pos); err != nil {
		return 0, unavailable("next position", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO speakmesh_messages (thread_id, position, role, content, turn_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, pos, string(msg.Role), msg.Content, msg.TurnID, msg.Created); err != nil {
		return 0, unavailable("insert message", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE speakmesh_threads SET updated_at = $2 WHERE id = $1`, id, msg.Created); err != nil {
		return 0, unavailable("touch thread", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable("commit message", err)
	}
	return pos, nil
}

// MergeCorrection attaches c to the user message it references.
func (s *PostgresStore) MergeCorrection(ctx context.Context, id string, c core.Correction) error {
	if c.Created.IsZero() {
		c.Created = time.Now()
	}
	issues, err := json.Marshal(nonNilIssues(c.Issues))
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op if committed

	var exists bool
	err = tx.QueryRow(ctx, `SELECT TRUE FROM speakmesh_threads WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrThreadNotFound
	}
	if err != nil {
		return unavailable("load thread", err)
	}
	var role string
	err = tx.QueryRow(ctx,
		`SELECT role FROM speakmesh_messages WHERE thread_id = $1 AND position = $2`, id, c.MessagePosition).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: position %d", core.ErrInvalidReference, c.MessagePosition)
	}
	if err != nil {
		return unavailable("load message", err)
	}
	if core.Role(role) != core.RoleUser {
		return fmt.Errorf("%w: position %d is an %s message", core.ErrInvalidReference, c.MessagePosition, role)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO speakmesh_corrections (thread_id, message_position, original, corrected, issues, explanation, unavailable, created_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, c.MessagePosition, c.Original, c.Corrected, issues, c.Explanation, c.Unavailable, c.Created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: position %d", core.ErrDuplicateCorrection, c.MessagePosition)
		}
		return unavailable("insert correction", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE speakmesh_threads SET updated_at = $2 WHERE id = $1`, id, c.Created); err != nil {
		return unavailable("touch thread", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit correction", err)
	}
	return nil
}

// Delete removes the thread; messages and corrections cascade.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM speakmesh_threads WHERE id = $1`, id); err != nil {
		return unavailable("delete thread", err)
	}
	return nil
}

// Lock takes the in-process lock first so local contention does not hold
// pooled connections, then a session advisory lock on a dedicated connection.
func (s *PostgresStore) Lock(ctx context.Context, id string) (func(), error) {
	releaseLocal, err := s.local.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		releaseLocal()
		return nil, unavailable("acquire lock connection", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, id); err != nil {
		// The lock state of an interrupted call is unknown; drop the session.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		releaseLocal()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("advisory lock", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, id); err != nil {
				_ = conn.Conn().Close(context.Background())
			}
			conn.Release()
			releaseLocal()
		})
	}, nil
}
