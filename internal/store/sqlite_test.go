package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	start := time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)
	ev := &Event{
		ID:          "ev-1",
		Title:       "Quarterly review",
		Description: "Slides attached",
		Location:    "Room 2",
		Start:       start,
		End:         start.Add(90 * time.Minute),
		AllDay:      false,
		Completed:   true,
		Source:      "qq-sync",
		RemoteURL:   "/cal/ev-1.ics",
		RemoteUID:   "ev-1",
		RemoteETag:  `"v7"`,
		NeedsPush:   true,
		NeedsDelete: false,
		CreatedAt:   start.Add(-time.Hour),
		UpdatedAt:   start,
	}

	require.NoError(t, s.Put(ctx, ev))

	got, err := s.Get(ctx, "ev-1")
	require.NoError(t, err)

	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, ev.Description, got.Description)
	assert.Equal(t, ev.Location, got.Location)
	assert.True(t, ev.Start.Equal(got.Start))
	assert.True(t, ev.End.Equal(got.End))
	assert.True(t, got.Completed)
	assert.Equal(t, ev.Source, got.Source)
	assert.Equal(t, ev.RemoteURL, got.RemoteURL)
	assert.Equal(t, ev.RemoteETag, got.RemoteETag)
	assert.True(t, got.NeedsPush)
	assert.True(t, ev.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := openTestSQLite(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	ev := sampleEvent("ev-1", start)
	require.NoError(t, s.Put(ctx, ev))

	ev.Title = "Renamed"
	ev.RemoteETag = `"v2"`
	require.NoError(t, s.Put(ctx, ev))

	got, err := s.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, `"v2"`, got.RemoteETag)

	events, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSQLiteStore_ListOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Put(ctx, sampleEvent("c", base.Add(2*time.Hour))))
	require.NoError(t, s.Put(ctx, sampleEvent("b", base)))
	require.NoError(t, s.Put(ctx, sampleEvent("a", base)))

	events, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestSQLiteStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	require.NoError(t, s.Put(ctx, sampleEvent("a", time.Now().UTC())))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "a"))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := OpenSQLite(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sampleEvent("a", time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))))
	require.NoError(t, s.Close())

	// Reopening re-runs migrations; already-applied ones must be skipped.
	s, err = OpenSQLite(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Event a", got.Title)
}

func TestSQLiteStore_PersistIsNoOp(t *testing.T) {
	s := openTestSQLite(t)
	assert.NoError(t, s.Persist(context.Background()))
}
