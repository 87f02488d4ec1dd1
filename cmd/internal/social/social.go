// Package social implements the public feed: posts, likes, and comments.
package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxPostChars bounds post body length (runes).
const MaxPostChars = 8000

// MaxCommentChars bounds comment body length (runes).
const MaxCommentChars = 2000

var (
	// ErrNotFound marks lookups for unknown posts.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks rejected input.
	ErrValidation = errors.New("validation failed")
)

// NotFoundError is a typed not-found with the failing id attached.
type NotFoundError struct {
	Op string
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: post not found: %s", e.Op, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Post is one feed entry.
type Post struct {
	ID        string
	AuthorID  string
	Body      string
	ImageURL  string
	CreatedAt time.Time

	// LikerIDs and Comments are populated on reads; mutation paths leave
	// them nil.
	LikerIDs []string
	Comments []Comment
}

// Comment is one reply attached to a post.
type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// CreatePostInput carries a validated post creation request.
type CreatePostInput struct {
	AuthorID string
	Body     string
	ImageURL string
	Now      time.Time
}

// AddCommentInput carries a validated comment creation request.
type AddCommentInput struct {
	PostID   string
	AuthorID string
	Body     string
	Now      time.Time
}

// Store is the feed persistence port.
type Store interface {
	// CreatePost stores a new post and returns it.
	CreatePost(ctx context.Context, in CreatePostInput) (Post, error)

	// ListPosts returns the feed, newest first, with likes and comments
	// populated.
	ListPosts(ctx context.Context) ([]Post, error)

	// GetPost returns one post with likes and comments populated.
	GetPost(ctx context.Context, id string) (Post, error)

	// ToggleLike flips userID's like on postID. Returns true when the like
	// now exists, false when it was removed.
	ToggleLike(ctx context.Context, postID, userID string) (bool, error)

	// AddComment appends a comment to a post.
	AddComment(ctx context.Context, in AddCommentInput) (Comment, error)

	// Close releases store resources.
	Close() error
}

func validateCreatePost(in *CreatePostInput) error {
	in.AuthorID = strings.TrimSpace(in.AuthorID)
	in.Body = strings.TrimSpace(in.Body)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.AuthorID == "" {
		return fmt.Errorf("social.CreatePost: %w: missing author", ErrValidation)
	}
	if in.Body == "" {
		return fmt.Errorf("social.CreatePost: %w: empty body", ErrValidation)
	}
	if utf8.RuneCountInString(in.Body) > MaxPostChars {
		return fmt.Errorf("social.CreatePost: %w: body too long (max %d chars)", ErrValidation, MaxPostChars)
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}

func validateAddComment(in *AddCommentInput) error {
	in.PostID = strings.TrimSpace(in.PostID)
	in.AuthorID = strings.TrimSpace(in.AuthorID)
	in.Body = strings.TrimSpace(in.Body)
	if in.PostID == "" || in.AuthorID == "" {
		return fmt.Errorf("social.AddComment: %w: missing ids", ErrValidation)
	}
	if in.Body == "" {
		return fmt.Errorf("social.AddComment: %w: empty body", ErrValidation)
	}
	if utf8.RuneCountInString(in.Body) > MaxCommentChars {
		return fmt.Errorf("social.AddComment: %w: body too long (max %d chars)", ErrValidation, MaxCommentChars)
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}
