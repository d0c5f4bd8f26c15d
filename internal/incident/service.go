// Package incident is the store boundary for citizen posts: it classifies
// submissions, enforces the operator workflow, masks triage data from
// citizens, and publishes changes to the live hub.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/alertify-service/internal/classifier"
	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/hub"
	"github.com/couchcryptid/alertify-service/internal/observability"
)

const (
	MaxAuthorRunes  = 60
	MaxContentRunes = 2000

	DefaultListLimit = 300
	MaxListLimit     = 1000
)

// Filter narrows a post listing.
type Filter struct {
	// OnlyDisaster keeps only disaster posts unless IncludeFiltered is
	// also set.
	OnlyDisaster    bool
	IncludeFiltered bool
	// Limit caps the result. Zero selects DefaultListLimit; values above
	// MaxListLimit are clamped.
	Limit int
}

// Service implements the incident operations.
type Service struct {
	repo       Repository
	classifier classifier.Classifier
	hub        *hub.Hub
	sink       EventSink
	geocoder   domain.Geocoder
	logger     *slog.Logger
	metrics    *observability.Metrics

	// publishMu spans every write and its publish so events leave in commit
	// order: new_post in id order, and never after an update of that post.
	publishMu sync.Mutex
	locks     *keyedMutex
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithGeocoder enables reverse-geocoded addresses on disaster posts.
func WithGeocoder(g domain.Geocoder) Option {
	return func(s *Service) { s.geocoder = g }
}

// WithEventSink mirrors every published event to sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// NewService wires a Service.
func NewService(repo Repository, c classifier.Classifier, h *hub.Hub, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		classifier: c,
		hub:        h,
		logger:     logger,
		metrics:    metrics,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePost validates, classifies and stores a citizen report. The returned
// post is masked for the caller's role.
func (s *Service) CreatePost(ctx context.Context, caller domain.Caller, author, content string) (domain.Post, error) {
	if caller.Role != domain.RoleCitizen && caller.Role != domain.RoleAdmin {
		return domain.Post{}, domain.ErrPermissionDenied
	}

	author = strings.TrimSpace(author)
	if author == "" {
		author = strings.TrimSpace(caller.Name)
	}
	if author == "" {
		return domain.Post{}, &domain.ValidationError{Field: "author", Reason: "is required"}
	}
	author = truncateRunes(author, MaxAuthorRunes)

	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Post{}, &domain.ValidationError{Field: "content", Reason: "is required"}
	}
	if n := utf8.RuneCountInString(content); n > MaxContentRunes {
		return domain.Post{}, &domain.ValidationError{
			Field:  "content",
			Reason: fmt.Sprintf("is %d characters, limit is %d", n, MaxContentRunes),
		}
	}

	start := time.Now()
	j := s.classifier.Classify(content)
	s.metrics.ClassifyDuration.Observe(time.Since(start).Seconds())

	now := domain.Now()
	post := domain.Post{
		Author:    author,
		Content:   content,
		CreatedAt: now,
		Triage: &domain.Triage{
			Judgment:  j,
			Status:    domain.StatusNew,
			UpdatedAt: now,
			Address:   domain.EnrichWithAddress(ctx, j, s.geocoder, s.logger),
		},
	}

	s.publishMu.Lock()
	stored, err := s.repo.Create(ctx, post)
	if err == nil && stored.Disaster() {
		s.publish(ctx, domain.EventNewPost, stored)
	}
	s.publishMu.Unlock()
	if err != nil {
		return domain.Post{}, fmt.Errorf("create post: %w", err)
	}

	typ, urg := "none", "none"
	if j.IsDisaster {
		typ, urg = string(j.DisasterType), string(j.Urgency)
	}
	s.metrics.PostsCreated.WithLabelValues(typ, urg).Inc()
	s.logger.Info("post created",
		"id", stored.ID,
		"is_disaster", j.IsDisaster,
		"type", j.DisasterType,
		"urgency", j.Urgency,
		"location", j.LocationText,
		"confidence", j.Confidence,
	)

	return stored.For(caller.Role), nil
}

// GetPost returns one post masked for the caller.
func (s *Service) GetPost(ctx context.Context, caller domain.Caller, id int64) (domain.Post, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("get post %d: %w", id, err)
	}
	return p.For(caller.Role), nil
}

// GetPosts lists posts newest first, masked for the caller.
func (s *Service) GetPosts(ctx context.Context, caller domain.Caller, f Filter) ([]domain.Post, error) {
	limit := f.Limit
	switch {
	case limit < 0:
		return nil, &domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	case limit == 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	posts, err := s.repo.List(ctx, domain.PostQuery{
		OnlyDisaster: f.OnlyDisaster && !f.IncludeFiltered,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	for i := range posts {
		posts[i] = posts[i].For(caller.Role)
	}
	return posts, nil
}

// UpdatePostStatus moves a post forward through the workflow. Moving to the
// current status is a no-op and publishes nothing.
func (s *Service) UpdatePostStatus(ctx context.Context, caller domain.Caller, id int64, to domain.Status) (domain.Post, error) {
	return s.changeStatus(ctx, caller, id, to, false)
}

// OverridePostStatus is the explicit operator correction: it may also move a
// post backward, but never back to NEW.
func (s *Service) OverridePostStatus(ctx context.Context, caller domain.Caller, id int64, to domain.Status) (domain.Post, error) {
	return s.changeStatus(ctx, caller, id, to, true)
}

func (s *Service) changeStatus(ctx context.Context, caller domain.Caller, id int64, to domain.Status, override bool) (domain.Post, error) {
	if !caller.Role.IsOperator() {
		return domain.Post{}, domain.ErrPermissionDenied
	}
	parsed, ok := domain.ParseStatus(string(to))
	if !ok {
		return domain.Post{}, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	to = parsed

	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Post{}, fmt.Errorf("update post %d: %w", id, err)
	}
	from := current.Status
	if from == to {
		return current, nil
	}
	if !domain.CanTransition(from, to, override) {
		return domain.Post{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	s.publishMu.Lock()
	updated, err := s.repo.UpdateStatus(ctx, id, from, to, domain.Now())
	if err == nil {
		s.publish(ctx, domain.EventUpdatePost, updated)
	}
	s.publishMu.Unlock()
	if err != nil {
		return domain.Post{}, fmt.Errorf("update post %d: %w", id, err)
	}

	s.metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("post status changed",
		"id", id, "from", from, "to", to, "override", override, "operator", caller.Name)
	return updated, nil
}

// Subscribe attaches an operator session to the live hub.
func (s *Service) Subscribe(ctx context.Context, caller domain.Caller) (*hub.Subscription, error) {
	if !caller.Role.IsOperator() {
		return nil, domain.ErrPermissionDenied
	}
	sub, err := s.hub.Subscribe(ctx)
	if err != nil {
		return nil, domain.Transient("subscribe", err)
	}
	return sub, nil
}

// CheckReadiness reports whether the repository is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, t domain.EventType, p domain.Post) {
	ev := s.hub.Publish(domain.NewEvent(t, p))
	if s.sink == nil {
		return
	}
	if err := s.sink.Send(ctx, ev); err != nil {
		s.metrics.EventsMirrored.WithLabelValues("error").Inc()
		s.logger.Warn("event mirror failed", "seq", ev.Seq, "type", ev.Type, "post_id", p.ID, "error", err)
		return
	}
	s.metrics.EventsMirrored.WithLabelValues("success").Inc()
}

// snapshot reads every stored post for the admin projections.
func (s *Service) snapshot(ctx context.Context, caller domain.Caller) ([]domain.Post, error) {
	if !caller.Role.IsOperator() {
		return nil, domain.ErrPermissionDenied
	}
	posts, err := s.repo.List(ctx, domain.PostQuery{})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return posts, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// IsClientError reports whether err was caused by the request rather than
// the service.
func IsClientError(err error) bool {
	return domain.IsValidation(err) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrStatusConflict)
}
