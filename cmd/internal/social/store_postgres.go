package social

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/cmd/internal/ids"
)

// PostgresStore is the primary feed store.
//
// The pool is owned by the caller; Close is a no-op. Tables:
// posts, post_likes (pk post_id+user_id), post_comments.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// SocialOption configures PostgresStore behavior.
type SocialOption func(*PostgresStore) error

// WithSocialSchema sets the DB schema (default: "ripple").
func WithSocialSchema(schema string) SocialOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("social: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed feed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...SocialOption) (*PostgresStore, error) {
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
		return nil, errors.New("social: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresStore) CreatePost(ctx context.Context, in CreatePostInput) (Post, error) {
	const op = "social.CreatePost"

	if err := validateCreatePost(&in); err != nil {
		return Post{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Post{}, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("posts")+` (id, author_id, body, image_url, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		id, in.AuthorID, in.Body, in.ImageURL, in.Now,
	); err != nil {
		return Post{}, fmt.Errorf("%s: %w", op, err)
	}

	return Post{
		ID:        id,
		AuthorID:  in.AuthorID,
		Body:      in.Body,
		ImageURL:  in.ImageURL,
		CreatedAt: in.Now,
	}, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context) ([]Post, error) {
	const op = "social.ListPosts"

	rows, err := s.pool.Query(ctx,
		`SELECT id, author_id, body, COALESCE(image_url, ''), created_at
		   FROM `+s.table("posts")+`
		  ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Post
	index := make(map[string]int)
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &p.ImageURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(out) == 0 {
		return out, nil
	}

	postIDs := make([]string, 0, len(out))
	for _, p := range out {
		postIDs = append(postIDs, p.ID)
	}

	if err := s.fillLikes(ctx, op, postIDs, func(postID, userID string) {
		i := index[postID]
		out[i].LikerIDs = append(out[i].LikerIDs, userID)
	}); err != nil {
		return nil, err
	}
	if err := s.fillComments(ctx, op, postIDs, func(c Comment) {
		i := index[c.PostID]
		out[i].Comments = append(out[i].Comments, c)
	}); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (Post, error) {
	const op = "social.GetPost"

	var p Post
	err := s.pool.QueryRow(ctx,
		`SELECT id, author_id, body, COALESCE(image_url, ''), created_at
		   FROM `+s.table("posts")+`
		  WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.AuthorID, &p.Body, &p.ImageURL, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, NotFoundError{Op: op, ID: id}
	}
	if err != nil {
		return Post{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.fillLikes(ctx, op, []string{id}, func(_, userID string) {
		p.LikerIDs = append(p.LikerIDs, userID)
	}); err != nil {
		return Post{}, err
	}
	if err := s.fillComments(ctx, op, []string{id}, func(c Comment) {
		p.Comments = append(p.Comments, c)
	}); err != nil {
		return Post{}, err
	}
	return p, nil
}

// ToggleLike deletes the like when present, inserts it when absent.
func (s *PostgresStore) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	const op = "social.ToggleLike"

	postID = strings.TrimSpace(postID)
	userID = strings.TrimSpace(userID)
	if postID == "" || userID == "" {
		return false, fmt.Errorf("%s: %w: missing ids", op, ErrValidation)
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("posts")+` WHERE id = $1)`,
		postID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return false, NotFoundError{Op: op, ID: postID}
	}

	likes := s.table("post_likes")

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+likes+` WHERE post_id = $1 AND user_id = $2`,
		postID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+likes+` (post_id, user_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (post_id, user_id) DO NOTHING`,
		postID, userID,
	); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *PostgresStore) AddComment(ctx context.Context, in AddCommentInput) (Comment, error) {
	const op = "social.AddComment"

	if err := validateAddComment(&in); err != nil {
		return Comment{}, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("posts")+` WHERE id = $1)`,
		in.PostID,
	).Scan(&exists)
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return Comment{}, NotFoundError{Op: op, ID: in.PostID}
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("post_comments")+` (id, post_id, author_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, in.PostID, in.AuthorID, in.Body, in.Now,
	); err != nil {
		return Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	return Comment{
		ID:        id,
		PostID:    in.PostID,
		AuthorID:  in.AuthorID,
		Body:      in.Body,
		CreatedAt: in.Now,
	}, nil
}

func (s *PostgresStore) fillLikes(ctx context.Context, op string, postIDs []string, add func(postID, userID string)) error {
	rows, err := s.pool.Query(ctx,
		`SELECT post_id, user_id
		   FROM `+s.table("post_likes")+`
		  WHERE post_id = ANY($1)
		  ORDER BY created_at ASC`,
		postIDs,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID, userID string
		if err := rows.Scan(&postID, &userID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		add(postID, userID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *PostgresStore) fillComments(ctx context.Context, op string, postIDs []string, add func(Comment)) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, post_id, author_id, body, created_at
		   FROM `+s.table("post_comments")+`
		  WHERE post_id = ANY($1)
		  ORDER BY created_at ASC, id ASC`,
		postIDs,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		add(c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
