// Package memory is an in-process post repository for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

// Repository keeps posts in an append-only slice ordered by id.
type Repository struct {
	mu     sync.RWMutex
	posts  []domain.Post
	nextID int64
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{nextID: 1}
}

// Create stores a copy of p under the next id.
func (r *Repository) Create(ctx context.Context, p domain.Post) (domain.Post, error) {
	if err := ctx.Err(); err != nil {
		return domain.Post{}, domain.Transient("memory create", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p = p.Clone()
	p.ID = r.nextID
	r.nextID++
	r.posts = append(r.posts, p)
	return p.Clone(), nil
}

// Get returns a copy of the post with id.
func (r *Repository) Get(ctx context.Context, id int64) (domain.Post, error) {
	if err := ctx.Err(); err != nil {
		return domain.Post{}, domain.Transient("memory get", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index(id)
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	return r.posts[i].Clone(), nil
}

// List returns copies newest first.
func (r *Repository) List(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Transient("memory list", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.posts)
	if q.Limit > 0 && q.Limit < n {
		n = q.Limit
	}
	out := make([]domain.Post, 0, n)
	for i := len(r.posts) - 1; i >= 0; i-- {
		p := r.posts[i]
		if q.OnlyDisaster && !p.Disaster() {
			continue
		}
		out = append(out, p.Clone())
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// UpdateStatus moves post id from one status to another and returns the
// updated copy.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to domain.Status, at time.Time) (domain.Post, error) {
	if err := ctx.Err(); err != nil {
		return domain.Post{}, domain.Transient("memory update", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index(id)
	if !ok {
		return domain.Post{}, domain.ErrNotFound
	}
	p := r.posts[i].Clone()
	if p.Triage == nil {
		p.Triage = &domain.Triage{}
	}
	if p.Status != from {
		return domain.Post{}, domain.ErrStatusConflict
	}
	p.Status = to
	p.UpdatedAt = at
	r.posts[i] = p
	return p.Clone(), nil
}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error { return nil }

// index finds id by binary search; ids are appended in increasing order.
func (r *Repository) index(id int64) (int, bool) {
	i := sort.Search(len(r.posts), func(i int) bool { return r.posts[i].ID >= id })
	if i < len(r.posts) && r.posts[i].ID == id {
		return i, true
	}
	return 0, false
}
