package incident

import (
	"context"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

// Repository persists posts. Implementations assign strictly increasing ids,
// return copies the caller may mutate, report unknown ids as
// domain.ErrNotFound, and wrap storage failures with domain.Transient.
type Repository interface {
	// Create stores p, ignoring p.ID, and returns it with its assigned id.
	Create(ctx context.Context, p domain.Post) (domain.Post, error)
	Get(ctx context.Context, id int64) (domain.Post, error)
	// List returns posts newest first. A non-positive Limit means no limit.
	List(ctx context.Context, q domain.PostQuery) ([]domain.Post, error)
	// UpdateStatus moves post id from status from to status to. It returns
	// domain.ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to domain.Status, at time.Time) (domain.Post, error)
	Ping(ctx context.Context) error
}

// EventSink receives a copy of every published event, e.g. a message bus
// mirror. Send must not block on the network.
type EventSink interface {
	Send(ctx context.Context, ev domain.Event) error
}
