package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoomAuthorizer decides whether a user may join and post to a task room.
type RoomAuthorizer interface {
	CanAccessTask(ctx context.Context, userID, taskID string) (bool, error)
}

// AllowAll admits every authenticated user to every task.
type AllowAll struct{}

// CanAccessTask always reports true.
func (AllowAll) CanAccessTask(context.Context, string, string) (bool, error) { return true, nil }

// PostgresRoomAuthorizer checks access via {schema}.task_members.
type PostgresRoomAuthorizer struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresRoomAuthorizer constructs an authorizer backed by PostgreSQL.
func NewPostgresRoomAuthorizer(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRoomAuthorizer, error) {
	cfg, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresRoomAuthorizer{pool: pool, schema: cfg.schema}, nil
}

// CanAccessTask reports whether userID is a member of taskID.
func (a *PostgresRoomAuthorizer) CanAccessTask(ctx context.Context, userID, taskID string) (bool, error) {
	if a == nil || a.pool == nil {
		return false, errors.New("gateway: nil authorizer")
	}
	userID = strings.TrimSpace(userID)
	taskID = strings.TrimSpace(taskID)
	if userID == "" || taskID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var one int
	err := a.pool.QueryRow(ctx,
		`SELECT 1 FROM `+pgIdent(a.schema, "task_members")+` WHERE task_id = $1 AND user_id = $2`,
		taskID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AddMember grants userID access to taskID. Granting twice is a no-op.
func (a *PostgresRoomAuthorizer) AddMember(ctx context.Context, taskID, userID string) error {
	if a == nil || a.pool == nil {
		return errors.New("gateway: nil authorizer")
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(a.schema, "task_members")+` (task_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (task_id, user_id) DO NOTHING`,
		taskID, userID,
	)
	return err
}
