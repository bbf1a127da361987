package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
)

// schemaVersion is stored in SQLite's user_version pragma.
// Increment it whenever the schema changes and add a migration step.
const schemaVersion = 1

// sqliteBusyTimeout is the time SQLite waits when another process holds the
// write lock. After this, operations return SQLITE_BUSY.
const sqliteBusyTimeout = 10000 // milliseconds

// SQLite is a [Store] backed by a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	opts options
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0o750)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Pragmas are per connection. One connection keeps them in effect and
	// serializes writers inside this process.
	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	err = migrateSQLite(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return &SQLite{db: db, opts: newOptions(opts)}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeout))
	if err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	row := db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int

	err := row.Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}

	return version, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return err
	}

	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("%w: database has %d, binary supports %d", ErrSchemaVersion, version, schemaVersion)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate txn: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			kind TEXT NOT NULL,
			published TEXT NOT NULL,
			day TEXT NOT NULL,
			updated TEXT,
			properties TEXT NOT NULL
		) WITHOUT ROWID`,
		`CREATE TABLE IF NOT EXISTS deleted_posts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			published TEXT NOT NULL,
			day TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_posts_kind_day ON posts(kind, day)",
		"CREATE INDEX IF NOT EXISTS idx_deleted_posts_kind_day ON deleted_posts(kind, day)",
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
	}

	for i, stmt := range statements {
		_, err = tx.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit migrate txn: %w", err)
	}

	committed = true

	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

func (s *SQLite) Insert(ctx context.Context, p post.Post) error {
	properties, err := encodeProperties(p.Properties)
	if err != nil {
		return fmt.Errorf("insert %s: %w", p.ID, err)
	}

	var updated sql.NullString
	if p.Updated != nil {
		updated = sql.NullString{String: formatTime(*p.Updated), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, type, kind, published, day, updated, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Type,
		string(p.Kind),
		formatTime(p.Published),
		post.Day(p.Published),
		updated,
		properties,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", p.ID, ErrConflict)
		}

		return fmt.Errorf("insert %s: %w", p.ID, err)
	}

	return nil
}

const sqlitePostColumns = "id, type, kind, published, updated, properties"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePost(row rowScanner) (post.Post, error) {
	var (
		p                    post.Post
		kind, published, bag string
		updated              sql.NullString
	)

	err := row.Scan(&p.ID, &p.Type, &kind, &published, &updated, &bag)
	if err != nil {
		return post.Post{}, err
	}

	p.Kind, err = decodeKind(kind)
	if err != nil {
		return post.Post{}, err
	}

	p.Published, err = parseTime(published)
	if err != nil {
		return post.Post{}, err
	}

	if updated.Valid {
		t, err := parseTime(updated.String)
		if err != nil {
			return post.Post{}, err
		}

		p.Updated = &t
	}

	p.Properties, err = decodeProperties(bag)
	if err != nil {
		return post.Post{}, err
	}

	return p, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (post.Post, error) {
	return getSQLite(ctx, s.db, id)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLite(ctx context.Context, q sqliteQuerier, id string) (post.Post, error) {
	row := q.QueryRowContext(ctx, "SELECT "+sqlitePostColumns+" FROM posts WHERE id = ?", id)

	p, err := scanSQLitePost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return post.Post{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return post.Post{}, fmt.Errorf("get %s: %w", id, err)
	}

	return p, nil
}

func (s *SQLite) UpdateProperties(ctx context.Context, id string, properties props.Bag) (post.Post, error) {
	encoded, err := encodeProperties(properties)
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: %w", id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: begin txn: %w", id, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE posts SET properties = ?, updated = ? WHERE id = ?",
		encoded, formatTime(s.opts.stamp()), id,
	)
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: %w", id, err)
	}

	if n == 0 {
		return post.Post{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	p, err := getSQLite(ctx, tx, id)
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return post.Post{}, fmt.Errorf("update %s: commit: %w", id, err)
	}

	committed = true

	return p, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) (post.DeletedPost, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: begin txn: %w", id, err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	p, err := getSQLite(ctx, tx, id)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: %w", id, err)
	}

	tomb := p.Tombstone()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO deleted_posts (id, kind, published, day) VALUES (?, ?, ?, ?)",
		tomb.ID, string(tomb.Kind), formatTime(tomb.Published), post.Day(tomb.Published),
	)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: insert tombstone: %w", id, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", id)
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: %w", id, err)
	}

	err = tx.Commit()
	if err != nil {
		return post.DeletedPost{}, fmt.Errorf("delete %s: commit: %w", id, err)
	}

	committed = true

	return tomb, nil
}

func (s *SQLite) CountPartition(ctx context.Context, kind post.Kind, day string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE kind = ? AND day = ?) +
			(SELECT COUNT(*) FROM deleted_posts WHERE kind = ? AND day = ?)`,
		string(kind), day, string(kind), day,
	)

	var n int

	err := row.Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s on %s: %w", kind, day, err)
	}

	return n, nil
}

func (s *SQLite) List(ctx context.Context) ([]post.Post, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqlitePostColumns+" FROM posts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var posts []post.Post

	for rows.Next() {
		p, err := scanSQLitePost(rows)
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

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
