package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(t *testing.T, s *Store, actor, action, bucket, outcome string, ts time.Time) {
	t.Helper()
	require.NoError(t, s.Record(context.Background(), &Entry{
		Timestamp: ts,
		Actor:     actor,
		Action:    action,
		Bucket:    bucket,
		Outcome:   outcome,
	}))
}

func TestRecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	record(t, s, "alice", "PutObject", "photos", OutcomeSuccess, base)
	record(t, s, "bob", "DeleteObject", "photos", OutcomeFailure, base.Add(time.Minute))
	record(t, s, "alice", "PutObject", "docs", OutcomeSuccess, base.Add(2*time.Minute))

	t.Run("newest first", func(t *testing.T) {
		page, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, page.Entries, 3)
		assert.Equal(t, "docs", page.Entries[0].Bucket)
		assert.Equal(t, "DeleteObject", page.Entries[1].Action)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("filter by actor", func(t *testing.T) {
		page, err := s.List(ctx, Filter{Actor: "alice"})
		require.NoError(t, err)
		assert.Len(t, page.Entries, 2)
	})

	t.Run("filter by action and bucket", func(t *testing.T) {
		page, err := s.List(ctx, Filter{Action: "PutObject", Bucket: "photos"})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "alice", page.Entries[0].Actor)
	})

	t.Run("filter by time window", func(t *testing.T) {
		page, err := s.List(ctx, Filter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "bob", page.Entries[0].Actor)
	})

	t.Run("defaults fill in", func(t *testing.T) {
		e := &Entry{Action: "ListBuckets"}
		require.NoError(t, s.Record(ctx, e))
		assert.NotZero(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
		assert.Equal(t, OutcomeSuccess, e.Outcome)
	})
}

func TestCursorPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		record(t, s, "alice", "PutObject", "b", OutcomeSuccess, base.Add(time.Duration(i)*time.Second))
	}

	page1, err := s.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := s.List(ctx, Filter{Limit: 2, Cursor: page1.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2.Entries, 2)
	require.NotEmpty(t, page2.NextCursor)

	page3, err := s.List(ctx, Filter{Limit: 2, Cursor: page2.NextCursor})
	require.NoError(t, err)
	require.Len(t, page3.Entries, 1)
	assert.Empty(t, page3.NextCursor)

	// No entry appears twice across pages.
	seen := map[int64]bool{}
	for _, page := range []*Page{page1, page2, page3} {
		for _, e := range page.Entries {
			assert.False(t, seen[e.ID], "entry %d repeated", e.ID)
			seen[e.ID] = true
		}
	}
	assert.Len(t, seen, 5)

	t.Run("bad cursor", func(t *testing.T) {
		_, err := s.List(ctx, Filter{Cursor: "not-a-number"})
		assert.Error(t, err)
	})
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record(t, s, "a", "PutObject", "b", OutcomeSuccess, now.AddDate(0, 0, -100))
	record(t, s, "a", "PutObject", "b", OutcomeSuccess, now.AddDate(0, 0, -10))
	record(t, s, "a", "PutObject", "b", OutcomeSuccess, now)

	removed, err := s.Purge(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	page, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
}
