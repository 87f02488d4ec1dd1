package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads user profiles and maintains the follow graph.
// User records themselves are written by the auth collaborator; this store
// only reads them and owns the follows table.
//
// The pool is owned by the caller; Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// UsersOption configures PostgresStore behavior.
type UsersOption func(*PostgresStore) error

// WithUsersSchema sets the DB schema (default: "ripple").
func WithUsersSchema(schema string) UsersOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("users: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed user store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...UsersOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "ripple"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("users: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) usersTable() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

func (s *PostgresStore) followsTable() string {
	return pgx.Identifier{s.schema, "follows"}.Sanitize()
}

func (s *PostgresStore) Profile(ctx context.Context, id string) (Profile, error) {
	const op = "users.Profile"

	var p Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, COALESCE(display_name, ''), COALESCE(avatar_url, ''), created_at
		   FROM `+s.usersTable()+`
		  WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, NotFoundError{Op: op, ID: id}
	}
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PostgresStore) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	const op = "users.Profiles"

	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, username, COALESCE(display_name, ''), COALESCE(avatar_url, ''), created_at
		   FROM `+s.usersTable()+`
		  WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (User, error) {
	const op = "users.Get"

	p, err := s.Profile(ctx, id)
	if err != nil {
		return User{}, err
	}
	u := User{Profile: p}

	follows := s.followsTable()

	rows, err := s.pool.Query(ctx,
		`SELECT follower_id FROM `+follows+` WHERE followee_id = $1 ORDER BY created_at ASC`,
		id,
	)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return User{}, fmt.Errorf("%s: %w", op, err)
		}
		u.FollowerIDs = append(u.FollowerIDs, fid)
	}
	if err := rows.Err(); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT followee_id FROM `+follows+` WHERE follower_id = $1 ORDER BY created_at ASC`,
		id,
	)
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return User{}, fmt.Errorf("%s: %w", op, err)
		}
		u.FollowingIDs = append(u.FollowingIDs, fid)
	}
	if err := rows.Err(); err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// ToggleFollow deletes the edge when present, inserts it when absent.
// The single-edge follows table carries both directions: followers and
// following are just the two join orientations.
func (s *PostgresStore) ToggleFollow(ctx context.Context, followerID, targetID string, now time.Time) (bool, error) {
	const op = "users.ToggleFollow"

	followerID = strings.TrimSpace(followerID)
	targetID = strings.TrimSpace(targetID)
	if followerID == "" || targetID == "" || followerID == targetID {
		return false, fmt.Errorf("%s: %w: invalid pair", op, ErrValidation)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if _, err := s.Profile(ctx, targetID); err != nil {
		return false, err
	}

	follows := s.followsTable()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+follows+` WHERE follower_id = $1 AND followee_id = $2`,
		followerID, targetID,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+follows+` (follower_id, followee_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (follower_id, followee_id) DO NOTHING`,
		followerID, targetID, now,
	); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
