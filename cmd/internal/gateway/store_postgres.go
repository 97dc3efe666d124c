// Package gateway is the tasklink realtime gateway: websocket sessions, task
// rooms, comment persistence and the REST comments page.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	v1 "tasklink/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSchema = "tasklink"

// PostgresCommentStore is a CommentStore backed by PostgreSQL.
//
// The store does NOT own the pool; Close is a no-op.
// Duplicates are resolved by the (task_id, message_id) unique constraint, so
// concurrent appends of the same message id yield one row.
type PostgresCommentStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the Postgres-backed stores.
type PostgresOption func(*pgConfig) error

type pgConfig struct {
	schema string
}

// WithSchema sets the DB schema (default: "tasklink").
// The name is validated and quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(c *pgConfig) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("gateway: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("gateway: invalid schema identifier")
		}
		c.schema = schema
		return nil
	}
}

func applyPGOptions(pool *pgxpool.Pool, opts []PostgresOption) (pgConfig, error) {
	cfg := pgConfig{schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return pgConfig{}, err
		}
	}
	if pool == nil {
		return pgConfig{}, errors.New("gateway: nil pool")
	}
	return cfg, nil
}

// NewPostgresCommentStore constructs a Postgres-backed CommentStore.
func NewPostgresCommentStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresCommentStore, error) {
	cfg, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresCommentStore{pool: pool, schema: cfg.schema}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresCommentStore) Close() error { return nil }

// EnsureSchema creates the schema and tables used by the gateway if missing.
func (s *PostgresCommentStore) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, s.pool, s.schema)
}

// AppendComment inserts a comment once per (task, message id).
func (s *PostgresCommentStore) AppendComment(ctx context.Context, in AppendCommentInput) (AppendCommentResult, error) {
	if s == nil || s.pool == nil {
		return AppendCommentResult{}, errors.New("gateway: nil store")
	}
	if err := in.validate(); err != nil {
		return AppendCommentResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendCommentResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendCommentResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	comments := pgIdent(s.schema, "task_comments")

	c := v1.Comment{
		ID:        NewCommentID(now),
		TaskID:    in.TaskID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var dup bool
	err = tx.QueryRow(ctx,
		`INSERT INTO `+comments+` (id, task_id, message_id, user_id, user_name, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (task_id, message_id) DO NOTHING
		 RETURNING id`,
		c.ID, c.TaskID, in.MessageID, c.UserID, c.UserName, c.Content, now,
	).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		c, err = readCommentByMessageID(ctx, tx, comments, in.TaskID, in.MessageID)
		if err != nil {
			return AppendCommentResult{}, fmt.Errorf("read duplicate: %w", err)
		}
		dup = true
	} else if err != nil {
		return AppendCommentResult{}, fmt.Errorf("insert comment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendCommentResult{}, err
	}
	return AppendCommentResult{Comment: c, Duplicated: dup}, nil
}

// ListComments returns the latest comments of a task, oldest first.
func (s *PostgresCommentStore) ListComments(ctx context.Context, in ListCommentsInput) (ListCommentsResult, error) {
	if s == nil || s.pool == nil {
		return ListCommentsResult{}, errors.New("gateway: nil store")
	}
	if in.TaskID == "" {
		return ListCommentsResult{}, ErrMissingTask
	}
	if err := ctx.Err(); err != nil {
		return ListCommentsResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, user_id, user_name, content, is_system, created_at, updated_at
		   FROM `+pgIdent(s.schema, "task_comments")+`
		  WHERE task_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		in.TaskID, fetch,
	)
	if err != nil {
		return ListCommentsResult{}, err
	}
	defer rows.Close()

	out := make([]v1.Comment, 0, fetch)
	for rows.Next() {
		var c v1.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.UserName, &c.Content, &c.IsSystemMessage, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return ListCommentsResult{}, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return ListCommentsResult{}, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return ListCommentsResult{Comments: out, HasMore: hasMore}, nil
}

func readCommentByMessageID(ctx context.Context, tx pgx.Tx, table, taskID, messageID string) (v1.Comment, error) {
	var c v1.Comment
	err := tx.QueryRow(ctx,
		`SELECT id, task_id, user_id, user_name, content, is_system, created_at, updated_at
		   FROM `+table+`
		  WHERE task_id = $1 AND message_id = $2`,
		taskID, messageID,
	).Scan(&c.ID, &c.TaskID, &c.UserID, &c.UserName, &c.Content, &c.IsSystemMessage, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	comments := pgIdent(schema, "task_comments")
	members := pgIdent(schema, "task_members")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id          TEXT PRIMARY KEY,
  task_id     TEXT NOT NULL,
  message_id  TEXT NOT NULL,
  user_id     TEXT NOT NULL,
  user_name   TEXT NOT NULL DEFAULT '',
  content     TEXT NOT NULL,
  is_system   BOOLEAN NOT NULL DEFAULT false,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_task_comments_message UNIQUE (task_id, message_id),
  CONSTRAINT chk_task_comments_content_len CHECK (char_length(content) > 0 AND char_length(content) <= %d)
);

CREATE INDEX IF NOT EXISTS idx_task_comments_task_created_desc
  ON %s (task_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS %s (
  task_id    TEXT NOT NULL,
  user_id    TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (task_id, user_id)
);
`, pgx.Identifier{schema}.Sanitize(), comments, maxCommentChars, comments, members)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("gateway: ensure schema: %w", err)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
