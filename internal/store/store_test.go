package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOpen opens a migrated store in a temp dir.
func testOpen(t *testing.T, opt ...Option) *Store {
	t.Helper()
	require := require.New(t)
	s, err := Open(filepath.Join(t.TempDir(), "data", "db.sqlite3"), opt...)
	require.NoError(err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background())
	require.NoError(err)
	return s
}

func TestOpen(t *testing.T) {
	t.Parallel()
	t.Run("empty-path", func(t *testing.T) {
		_, err := Open(" ")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("creates-dir", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		path := filepath.Join(t.TempDir(), "backend-data", "db.sqlite3")
		s, err := Open(path)
		require.NoError(err)
		defer s.Close()
		assert.FileExists(path)
	})
	t.Run("nil-close", func(t *testing.T) {
		var s *Store
		assert.NoError(t, s.Close())
	})
}

func TestStore_Migrate(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.sqlite3")

	s, err := Open(path)
	require.NoError(err)
	applied, err := s.Migrate(ctx)
	require.NoError(err)
	assert.Equal([]string{"0001_users.sql", "0002_reports.sql"}, applied)

	// applied once each
	applied, err = s.Migrate(ctx)
	require.NoError(err)
	assert.Empty(applied)
	require.NoError(s.Close())

	s, err = Open(path)
	require.NoError(err)
	defer s.Close()
	applied, err = s.Migrate(ctx)
	require.NoError(err)
	assert.Empty(applied)

	var n int
	require.NoError(s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(2, n)
}

func TestUpMigration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "plain", content: "CREATE TABLE t (id INT);", want: "CREATE TABLE t (id INT);"},
		{name: "up-only", content: "-- +migrate Up\nCREATE TABLE t (id INT);", want: "\nCREATE TABLE t (id INT);"},
		{name: "up-down", content: "-- +migrate Up\nCREATE TABLE t (id INT);\n-- +migrate Down\nDROP TABLE t;", want: "\nCREATE TABLE t (id INT);\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, upMigration(tt.content))
		})
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("crud", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		users := testOpen(t, WithNow(clock)).Users()

		got, err := users.Add(ctx, &User{ID: "u1", Email: "alice@example.com", EmailVerified: true, PreferredUsername: "alice"})
		require.NoError(err)
		assert.Equal("alice@example.com", got.Email)
		assert.True(got.EmailVerified)
		assert.Equal(now, got.CreatedAt)

		_, err = users.Add(ctx, &User{ID: "u1"})
		assert.ErrorIs(err, ErrConflict)
		_, err = users.Add(ctx, &User{ID: "u2", Email: "alice@example.com"})
		assert.ErrorIs(err, ErrConflict)

		// users without an email don't collide
		_, err = users.Add(ctx, &User{ID: "u3"})
		require.NoError(err)
		_, err = users.Add(ctx, &User{ID: "u4"})
		require.NoError(err)

		got.Name = "Alice Liddell"
		got.EmailVerified = false
		updated, err := users.Update(ctx, got)
		require.NoError(err)
		assert.Equal("Alice Liddell", updated.Name)
		assert.False(updated.EmailVerified)

		all, err := users.FindAll(ctx)
		require.NoError(err)
		require.Len(all, 3)
		assert.Equal("u1", all[0].ID)

		require.NoError(users.Delete(ctx, "u3"))
		assert.ErrorIs(users.Delete(ctx, "u3"), ErrNotFound)
		_, err = users.FindByID(ctx, "u3")
		assert.ErrorIs(err, ErrNotFound)
	})
	t.Run("upsert", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		users := testOpen(t).Users()
		_, err := users.Update(ctx, &User{ID: "u1"})
		assert.ErrorIs(err, ErrNotFound)

		got, err := users.Upsert(ctx, &User{ID: "u1", Email: "a@example.com"})
		require.NoError(err)
		assert.Equal("a@example.com", got.Email)
		got, err = users.Upsert(ctx, &User{ID: "u1", Email: "b@example.com"})
		require.NoError(err)
		assert.Equal("b@example.com", got.Email)
		all, err := users.FindAll(ctx)
		require.NoError(err)
		assert.Len(all, 1)
	})
	t.Run("invalid", func(t *testing.T) {
		assert := assert.New(t)
		users := testOpen(t).Users()
		_, err := users.Add(ctx, nil)
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = users.Add(ctx, &User{})
		assert.ErrorIs(err, ErrInvalidParameter)
		_, err = users.FindByID(ctx, "")
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestReports(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	reports := testOpen(t).Reports()

	titles, err := reports.ReportTitles(ctx)
	require.NoError(err)
	assert.Empty(titles)

	q1, err := reports.Add(ctx, &Report{Title: " Q1 ", Content: "numbers"})
	require.NoError(err)
	assert.Equal("Q1", q1.Title)
	assert.NotZero(q1.ID)
	q2, err := reports.Add(ctx, &Report{Title: "Q2"})
	require.NoError(err)

	_, err = reports.Add(ctx, &Report{Title: "  "})
	assert.ErrorIs(err, ErrInvalidParameter)

	titles, err = reports.ReportTitles(ctx)
	require.NoError(err)
	assert.Equal([]string{"Q1", "Q2"}, titles)

	q2.Content = "more numbers"
	updated, err := reports.Update(ctx, q2)
	require.NoError(err)
	assert.Equal("more numbers", updated.Content)
	_, err = reports.Update(ctx, &Report{ID: 999, Title: "x"})
	assert.ErrorIs(err, ErrNotFound)

	require.NoError(reports.Delete(ctx, q1.ID))
	assert.ErrorIs(reports.Delete(ctx, q1.ID), ErrNotFound)
	_, err = reports.FindByID(ctx, q1.ID)
	assert.ErrorIs(err, ErrNotFound)

	all, err := reports.FindAll(ctx)
	require.NoError(err)
	require.Len(all, 1)
	assert.Equal(q2.ID, all[0].ID)
}
