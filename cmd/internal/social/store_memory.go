package social

import (
	"context"
	"sort"
	"sync"

	"ripple/cmd/internal/ids"
)

// InMemoryStore is the dev/test fallback feed store.
type InMemoryStore struct {
	mu       sync.Mutex
	posts    map[string]*memPost
	ordered  []string // post ids, insertion order
	comments map[string][]Comment
}

type memPost struct {
	post   Post
	likers map[string]struct{}
}

// NewInMemoryStore constructs an empty in-memory feed store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		posts:    make(map[string]*memPost),
		comments: make(map[string][]Comment),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreatePost(ctx context.Context, in CreatePostInput) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	if err := validateCreatePost(&in); err != nil {
		return Post{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Post{}, err
	}

	p := Post{
		ID:        id,
		AuthorID:  in.AuthorID,
		Body:      in.Body,
		ImageURL:  in.ImageURL,
		CreatedAt: in.Now,
	}

	s.mu.Lock()
	s.posts[id] = &memPost{post: p, likers: make(map[string]struct{})}
	s.ordered = append(s.ordered, id)
	s.mu.Unlock()

	return p, nil
}

func (s *InMemoryStore) ListPosts(ctx context.Context) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Post, 0, len(s.ordered))
	for i := len(s.ordered) - 1; i >= 0; i-- {
		out = append(out, s.hydrateLocked(s.ordered[i]))
	}
	return out, nil
}

func (s *InMemoryStore) GetPost(ctx context.Context, id string) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return Post{}, NotFoundError{Op: "social.GetPost", ID: id}
	}
	return s.hydrateLocked(id), nil
}

func (s *InMemoryStore) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mp, ok := s.posts[postID]
	if !ok {
		return false, NotFoundError{Op: "social.ToggleLike", ID: postID}
	}
	if _, liked := mp.likers[userID]; liked {
		delete(mp.likers, userID)
		return false, nil
	}
	mp.likers[userID] = struct{}{}
	return true, nil
}

func (s *InMemoryStore) AddComment(ctx context.Context, in AddCommentInput) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	if err := validateAddComment(&in); err != nil {
		return Comment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[in.PostID]; !ok {
		return Comment{}, NotFoundError{Op: "social.AddComment", ID: in.PostID}
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return Comment{}, err
	}

	c := Comment{
		ID:        id,
		PostID:    in.PostID,
		AuthorID:  in.AuthorID,
		Body:      in.Body,
		CreatedAt: in.Now,
	}
	s.comments[in.PostID] = append(s.comments[in.PostID], c)
	return c, nil
}

func (s *InMemoryStore) hydrateLocked(id string) Post {
	mp := s.posts[id]
	p := mp.post

	p.LikerIDs = make([]string, 0, len(mp.likers))
	for uid := range mp.likers {
		p.LikerIDs = append(p.LikerIDs, uid)
	}
	sort.Strings(p.LikerIDs)

	p.Comments = append([]Comment(nil), s.comments[id]...)
	return p
}
