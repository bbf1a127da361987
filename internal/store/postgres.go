package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// pgMigrateLockKey serializes schema setup across processes.
const pgMigrateLockKey = 0x706f7374 // "post"

// Postgres is a [Store] backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	opts options
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("open postgres: dsn is empty")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: parse dsn: %w", err)
	}

	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	cfg.ConnConfig.StatementCacheCapacity = 64

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("open postgres: ping: %w", err)
	}

	err = migratePostgres(ctx, pool)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &Postgres{pool: pool, opts: newOptions(opts)}, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migrate txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	// properties is json, not jsonb: jsonb would reorder keys.
	statements := []string{
		fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", pgMigrateLockKey),
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			kind TEXT NOT NULL,
			published TIMESTAMPTZ NOT NULL,
			day TEXT NOT NULL,
			updated TIMESTAMPTZ,
			properties JSON NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS deleted_posts (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			published TIMESTAMPTZ NOT NULL,
			day TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_posts_kind_day ON posts(kind, day)",
		"CREATE INDEX IF NOT EXISTS idx_deleted_posts_kind_day ON deleted_posts(kind, day)",
	}

	for i, stmt := range statements {
		_, err = tx.Exec(ctx, stmt)
		if err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("commit migrate txn: %w", err)
	}

	committed = true

	return nil
}

// Close closes every pooled connection.
func (s *Postgres) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}

	s.pool.Close()

	return nil
}

func (s *Postgres) Insert(ctx context.Context, p post.Post) error {
	properties, err := encodeProperties(p.Properties)
	if err != nil {
		return fmt.Errorf("insert %s: %w", p.ID, err)
	}

	var updated *time.Time
	if p.Updated != nil {
		u := p.Updated.UTC()
		updated = &u
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO posts (id, type, kind, published, day, updated, properties)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID,
		p.Type,
		string(p.Kind),
		p.Published.UTC(),
		post.Day(p.Published),
		updated,
		properties,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", p.ID, ErrConflict)
		}

		return fmt.Errorf("insert %s: %w", p.ID, err)
	}

	return nil
}

const pgPostColumns = "id, type, kind, published, updated, properties::text"

func scanPgPost(row pgx.Row) (post.Post, error) {
	var (
		p         post.Post
		kind, bag string
		updated   *time.Time
	)

	err := row.Scan(&p.ID, &p.Type, &kind, &p.Published, &updated, &bag)
	if err != nil {
		return post.Post{}, err
	}

	p.Kind, err = decodeKind(kind)
	if err != nil {
		return post.Post{}, err
	}

	p.Published = p.Published.UTC()

	if updated != nil {
		u := updated.UTC()
		p.Updated = &u
	}

	p.Properties, err = decodeProperties(bag)
	if err != nil {
		return post.Post{}, err
	}

	return p, nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPg(ctx context.Context, q pgQuerier, id string) (post.Post, error) {
	p, err := scanPgPost(q.QueryRow(ctx, "SELECT "+pgPostColumns+" FROM posts WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return post.Post{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return post.Post{}, fmt.Errorf("get %s: %w", id, err)
	}

	return p, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (post.Post, error) {
	return getPg(ctx, s.pool, id)
}

func (s *Postgres) UpdateProperties(ctx context.Context, id string, properties props.Bag) (post.Post, error) {
	encoded, err := encodeProperties(properties)
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: %w", id, err)
	}

	row := s.pool.QueryRow(ctx,
		"UPDATE posts SET properties = $1, updated = $2 WHERE id = $3 RETURNING "+pgPostColumns,
		encoded, s.opts.stamp(), id,
	)

	p, err := scanPgPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return post.Post{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: %w", id, err)
	}

	return p, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) (post.DeletedPost, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: begin txn: %w", id, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		kind      string
		published time.Time
	)

	err = tx.QueryRow(ctx,
		"DELETE FROM posts WHERE id = $1 RETURNING kind, published", id,
	).Scan(&kind, &published)
	if errors.Is(err, pgx.ErrNoRows) {
		return post.DeletedPost{}, fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: %w", id, err)
	}

	k, err := decodeKind(kind)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: %w", id, err)
	}

	tomb := post.DeletedPost{ID: id, Kind: k, Published: published.UTC()}

	_, err = tx.Exec(ctx,
		"INSERT INTO deleted_posts (id, kind, published, day) VALUES ($1, $2, $3, $4)",
		tomb.ID, string(tomb.Kind), tomb.Published, post.Day(tomb.Published),
	)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: insert tombstone: %w", id, err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: commit: %w", id, err)
	}

	committed = true

	return tomb, nil
}

func (s *Postgres) CountPartition(ctx context.Context, kind post.Kind, day string) (int, error) {
	var n int

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE kind = $1 AND day = $2) +
			(SELECT COUNT(*) FROM deleted_posts WHERE kind = $1 AND day = $2)`,
		string(kind), day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s on %s: %w", kind, day, err)
	}

	return n, nil
}

func (s *Postgres) List(ctx context.Context) ([]post.Post, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+pgPostColumns+` FROM posts ORDER BY id COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var posts []post.Post

	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}

		posts = append(posts, p)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	return posts, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
