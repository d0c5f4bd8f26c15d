// Package postgres stores posts in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/couchcryptid/alertify-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id                BIGSERIAL PRIMARY KEY,
    author            TEXT        NOT NULL,
    content           TEXT        NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    is_disaster       BOOLEAN     NOT NULL,
    disaster_type     TEXT        NOT NULL,
    urgency           TEXT        NOT NULL DEFAULT '',
    location_text     TEXT        NOT NULL DEFAULT '',
    lat               DOUBLE PRECISION,
    lon               DOUBLE PRECISION,
    confidence        INTEGER     NOT NULL DEFAULT 0,
    status            TEXT        NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    formatted_address TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS posts_disaster_id_idx ON posts (is_disaster, id DESC);
`

var columns = []string{
	"id", "author", "content", "created_at",
	"is_disaster", "disaster_type", "urgency", "location_text", "lat", "lon", "confidence",
	"status", "updated_at", "formatted_address",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.Transient("ping postgres", err)
	}
	return db, nil
}

// Repository is the PostgreSQL implementation of the post repository.
type Repository struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the posts table and its index if they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return storageError("ensure schema", err)
	}
	return nil
}

// Create inserts p and returns it with the id the database assigned.
func (r *Repository) Create(ctx context.Context, p domain.Post) (domain.Post, error) {
	t := p.Triage
	if t == nil {
		t = &domain.Triage{Judgment: domain.NotDisaster(), Status: domain.StatusNew, UpdatedAt: p.CreatedAt}
	}
	query, args, err := psql.Insert("posts").
		Columns(columns[1:]...).
		Values(
			p.Author, p.Content, p.CreatedAt,
			t.IsDisaster, string(t.DisasterType), string(t.Urgency), t.LocationText,
			nullFloat(t.Lat), nullFloat(t.Lon), t.Confidence,
			string(t.Status), t.UpdatedAt, t.Address,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return domain.Post{}, storageError("insert post", err)
	}
	p = p.Clone()
	p.ID = id
	p.Triage = t
	return p.Clone(), nil
}

// Get loads one post.
func (r *Repository) Get(ctx context.Context, id int64) (domain.Post, error) {
	query, args, err := psql.Select(columns...).From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build select: %w", err)
	}
	p, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Post{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Post{}, storageError("select post", err)
	}
	return p, nil
}

// List returns posts newest first.
func (r *Repository) List(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	b := psql.Select(columns...).From("posts").OrderBy("id DESC")
	if q.OnlyDisaster {
		b = b.Where(sq.Eq{"is_disaster": true})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list posts", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, storageError("scan post", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list posts", err)
	}
	return posts, nil
}

// UpdateStatus moves the workflow status and returns the updated row. The
// update only applies while the row still holds from, so replicas sharing
// the database cannot overwrite each other.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to domain.Status, at time.Time) (domain.Post, error) {
	query, args, err := psql.Update("posts").
		Set("status", string(to)).
		Set("updated_at", at).
		Where(sq.Eq{"id": id, "status": string(from)}).
		Suffix("RETURNING " + strings.Join(columns, ", ")).
		ToSql()
	if err != nil {
		return domain.Post{}, fmt.Errorf("build update: %w", err)
	}
	p, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Post{}, r.missedUpdate(ctx, id)
	}
	if err != nil {
		return domain.Post{}, storageError("update status", err)
	}
	return p, nil
}

// missedUpdate tells an unknown id from a status that moved underneath.
func (r *Repository) missedUpdate(ctx context.Context, id int64) error {
	query, args, err := psql.Select("1").From("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return storageError("update status", err)
	}
	return domain.ErrStatusConflict
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return domain.Transient("ping postgres", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (domain.Post, error) {
	var (
		p        domain.Post
		t        domain.Triage
		dtype    string
		urgency  string
		status   string
		lat, lon sql.NullFloat64
	)
	err := row.Scan(
		&p.ID, &p.Author, &p.Content, &p.CreatedAt,
		&t.IsDisaster, &dtype, &urgency, &t.LocationText, &lat, &lon, &t.Confidence,
		&status, &t.UpdatedAt, &t.Address,
	)
	if err != nil {
		return domain.Post{}, err
	}
	t.DisasterType = domain.DisasterType(dtype)
	t.Urgency = domain.Urgency(urgency)
	t.Status = domain.Status(status)
	if lat.Valid {
		t.Lat = &lat.Float64
	}
	if lon.Valid {
		t.Lon = &lon.Float64
	}
	p.CreatedAt = p.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	p.Triage = &t
	return p, nil
}

// storageError marks failures as transient unless Postgres rejected the data
// itself (integrity or data exceptions), which retrying cannot fix.
func storageError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%s: %s: %w", op, pqErr.Code.Name(), err)
		}
	}
	return domain.Transient(op, err)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
