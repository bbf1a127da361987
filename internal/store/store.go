// Package store persists posts and tombstones.
//
// Two backends implement [Store]: SQLite (the default, a single file under the
// state directory) and Postgres. Both enforce id uniqueness with a primary key
// and report violations as [ErrConflict].
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

var (
	// ErrConflict is returned by Insert when the id is already taken.
	ErrConflict = errors.New("id conflict")

	// ErrNotFound is returned when no post has the requested id.
	ErrNotFound = errors.New("post not found")

	// ErrUnknownDriver is returned by [Open] for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")

	// ErrSchemaVersion is returned when the database was written by a newer
	// schema than this binary understands.
	ErrSchemaVersion = errors.New("unsupported schema version")
)

// Driver names accepted by [Open].
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the record store for posts and their tombstones.
type Store interface {
	// Insert adds a new post. It returns [ErrConflict] if the id exists.
	Insert(ctx context.Context, p post.Post) error

	// Get returns the post with id or [ErrNotFound].
	Get(ctx context.Context, id string) (post.Post, error)

	// UpdateProperties replaces the property bag of id and stamps Updated
	// with the store clock. It returns the stored post.
	UpdateProperties(ctx context.Context, id string, properties props.Bag) (post.Post, error)

	// Delete removes id and records its tombstone in one transaction.
	Delete(ctx context.Context, id string) (post.DeletedPost, error)

	// CountPartition counts live posts plus tombstones of kind published on
	// day (YYYY-MM-DD, see [post.Day]).
	CountPartition(ctx context.Context, kind post.Kind, day string) (int, error)

	// List returns every live post ordered by id.
	List(ctx context.Context) ([]post.Post, error)

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used to stamp Updated.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// stamp returns the current time at the precision both backends keep.
func (o options) stamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

// Open opens the backend named by driver.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, dsn, opts...)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("open store: %w: %q", ErrUnknownDriver, driver)
	}
}
