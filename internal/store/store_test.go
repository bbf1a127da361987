package store_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/postgate/internal/post"
	"github.com/calvinalkan/postgate/internal/props"
	"github.com/calvinalkan/postgate/internal/store"
)

const postgresDSNEnv = "POSTGATE_TEST_POSTGRES_DSN"

type opener func(t *testing.T, opts ...store.Option) store.Store

func openSQLite(t *testing.T, opts ...store.Option) store.Store {
	t.Helper()

	s, err := store.OpenSQLite(t.Context(), t.TempDir()+"/state/posts.sqlite", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// openPostgres opens a store inside a fresh schema so parallel tests do not
// see each other's rows.
func openPostgres(t *testing.T, opts ...store.Option) store.Store {
	t.Helper()

	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}

	schema := "postgate_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	conn, err := pgx.Connect(t.Context(), dsn)
	require.NoError(t, err)

	_, err = conn.Exec(t.Context(), "CREATE SCHEMA "+schema)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = conn.Close(context.Background())
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	s, err := store.OpenPostgres(t.Context(), dsn+sep+"search_path="+schema, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func backends() map[string]opener {
	return map[string]opener{
		store.DriverSQLite:   openSQLite,
		store.DriverPostgres: openPostgres,
	}
}

// forEachBackend runs fn against every backend as parallel subtests.
func forEachBackend(t *testing.T, fn func(t *testing.T, open opener)) {
	t.Helper()

	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open)
		})
	}
}

var published = time.Date(2023, 1, 29, 5, 30, 0, 0, time.UTC)

func newNote(id string, at time.Time) post.Post {
	return post.Post{
		ID:        id,
		Type:      "h-entry",
		Kind:      post.KindNote,
		Published: at,
		Properties: props.Bag{}.
			With("content", props.String("Hello World!")).
			With("category", props.Strings("foo", "bar")...).
			With("photo", props.Object(map[string]any{"value": "https://x/1", "alt": "x"})),
	}
}

func Test_Store_Get_Returns_Inserted_Post_When_Id_Exists(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)
		p := newNote("notes/2023/01/29/01", published)

		require.NoError(t, s.Insert(t.Context(), p))

		got, err := s.Get(t.Context(), p.ID)
		require.NoError(t, err)

		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, p.Type, got.Type)
		assert.Equal(t, p.Kind, got.Kind)
		assert.True(t, p.Published.Equal(got.Published), "published %v != %v", got.Published, p.Published)
		assert.Nil(t, got.Updated)
		assert.True(t, p.Properties.Equal(got.Properties), "properties differ: %v", got.Properties.Keys())
	})
}

func Test_Store_Insert_Returns_ErrConflict_When_Id_Taken(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)
		p := newNote("notes/2023/01/29/01", published)

		require.NoError(t, s.Insert(t.Context(), p))

		err := s.Insert(t.Context(), p)
		require.ErrorIs(t, err, store.ErrConflict)
	})
}

func Test_Store_Get_Returns_ErrNotFound_When_Id_Missing(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)

		_, err := s.Get(t.Context(), "notes/2023/01/29/99")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func Test_Store_UpdateProperties_Stamps_Updated_With_Store_Clock(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		now := time.Date(2023, 2, 1, 10, 0, 0, 0, time.UTC)
		s := open(t, store.WithClock(func() time.Time { return now }))

		p := newNote("notes/2023/01/29/01", published)
		require.NoError(t, s.Insert(t.Context(), p))

		bag := props.Bag{}.With("content", props.String("edited"))

		got, err := s.UpdateProperties(t.Context(), p.ID, bag)
		require.NoError(t, err)
		require.NotNil(t, got.Updated)
		assert.True(t, now.Equal(*got.Updated), "updated = %v, want %v", *got.Updated, now)
		assert.True(t, bag.Equal(got.Properties))
		assert.True(t, published.Equal(got.Published), "published must not change")

		reread, err := s.Get(t.Context(), p.ID)
		require.NoError(t, err)
		require.NotNil(t, reread.Updated)
		assert.True(t, now.Equal(*reread.Updated))
	})
}

func Test_Store_UpdateProperties_Returns_ErrNotFound_When_Id_Missing(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)

		_, err := s.UpdateProperties(t.Context(), "notes/2023/01/29/01", props.Bag{})
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func Test_Store_Delete_Keeps_Partition_Count_When_Post_Removed(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)
		p := newNote("notes/2023/01/29/01", published)
		require.NoError(t, s.Insert(t.Context(), p))

		tomb, err := s.Delete(t.Context(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, tomb.ID)
		assert.Equal(t, post.KindNote, tomb.Kind)
		assert.True(t, published.Equal(tomb.Published))

		_, err = s.Get(t.Context(), p.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		n, err := s.CountPartition(t.Context(), post.KindNote, "2023-01-29")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Delete(t.Context(), p.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func Test_Store_Delete_Records_Each_Tombstone_When_Slug_Id_Reused(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)
		p := newNote("notes/2023/01/29/my-post", published)

		for range 2 {
			require.NoError(t, s.Insert(t.Context(), p))

			_, err := s.Delete(t.Context(), p.ID)
			require.NoError(t, err)
		}

		n, err := s.CountPartition(t.Context(), post.KindNote, "2023-01-29")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func Test_Store_CountPartition_Separates_Kinds_And_UTC_Days(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)
		ctx := t.Context()

		// 23:30 at UTC-5 is already 2023-01-30 in UTC.
		late := time.Date(2023, 1, 29, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))

		like := newNote("likes/2023/01/29/01", published)
		like.Kind = post.KindLike

		for _, p := range []post.Post{
			newNote("notes/2023/01/29/01", published),
			newNote("notes/2023/01/29/02", published.Add(time.Hour)),
			newNote("notes/2023/01/30/01", late),
			like,
		} {
			require.NoError(t, s.Insert(ctx, p))
		}

		_, err := s.Delete(ctx, "notes/2023/01/29/02")
		require.NoError(t, err)

		cases := []struct {
			kind post.Kind
			day  string
			want int
		}{
			{post.KindNote, "2023-01-29", 2},
			{post.KindNote, "2023-01-30", 1},
			{post.KindLike, "2023-01-29", 1},
			{post.KindArticle, "2023-01-29", 0},
		}

		for _, tc := range cases {
			n, err := s.CountPartition(ctx, tc.kind, tc.day)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n, "CountPartition(%s, %s)", tc.kind, tc.day)
		}
	})
}

func Test_Store_List_Returns_Live_Posts_Ordered_By_Id(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, open opener) {
		s := open(t)
		ctx := t.Context()

		ids := []string{"notes/2023/01/29/02", "articles/2023/01/29/hello", "notes/2023/01/29/01", "likes/2023/01/29/01"}
		for _, id := range ids {
			require.NoError(t, s.Insert(ctx, newNote(id, published)))
		}

		_, err := s.Delete(ctx, "likes/2023/01/29/01")
		require.NoError(t, err)

		posts, err := s.List(ctx)
		require.NoError(t, err)

		got := make([]string, 0, len(posts))
		for _, p := range posts {
			got = append(got, p.ID)
		}

		assert.Equal(t, []string{"articles/2023/01/29/hello", "notes/2023/01/29/01", "notes/2023/01/29/02"}, got)
	})
}

func Test_OpenSQLite_Persists_Posts_When_Reopened(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/posts.sqlite"

	s, err := store.OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(t.Context(), newNote("notes/2023/01/29/01", published)))
	require.NoError(t, s.Close())

	s, err = store.OpenSQLite(t.Context(), path)
	require.NoError(t, err)

	defer s.Close()

	posts, err := s.List(t.Context())
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func Test_OpenSQLite_Returns_ErrSchemaVersion_When_Database_Is_Newer(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/posts.sqlite"

	s, err := store.OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	bumpUserVersion(t, path, 99)

	_, err = store.OpenSQLite(t.Context(), path)
	require.ErrorIs(t, err, store.ErrSchemaVersion)
}

func Test_Open_Returns_ErrUnknownDriver_When_Driver_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := store.Open(t.Context(), "mysql", "whatever")
	require.ErrorIs(t, err, store.ErrUnknownDriver)
}

func Test_Open_Selects_SQLite_When_Driver_Empty(t *testing.T) {
	t.Parallel()

	s, err := store.Open(t.Context(), "", t.TempDir()+"/posts.sqlite")
	require.NoError(t, err)

	defer s.Close()

	_, ok := s.(*store.SQLite)
	assert.True(t, ok, "got %T, want *store.SQLite", s)
}

func Test_Store_Insert_Reports_Exactly_One_Winner_When_Racing_On_Same_Id(t *testing.T) {
	t.Parallel()

	s := openSQLite(t)

	const racers = 8

	errs := make(chan error, racers)

	for i := range racers {
		go func() {
			p := newNote("notes/2023/01/29/01", published)
			p.Properties = props.Bag{}.With("content", props.String(fmt.Sprint(i)))
			errs <- s.Insert(t.Context(), p)
		}()
	}

	wins := 0

	for range racers {
		err := <-errs

		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
}

func bumpUserVersion(t *testing.T, path string, version int) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.ExecContext(t.Context(), fmt.Sprintf("PRAGMA user_version = %d", version))
	require.NoError(t, err)
}
