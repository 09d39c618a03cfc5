package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/amishk599/recruitwatch/internal/model"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	staleAfter = 5 * time.Minute
	maxRetries = 3
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPostgresStore(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	_, err = s.db.Exec(`TRUNCATE notifications, subscriptions, postings RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T)   { runStoreSuite(t, newSQLiteStore) }
func TestPostgresStore(t *testing.T) { runStoreSuite(t, newPostgresStore) }

func runStoreSuite(t *testing.T, open func(*testing.T) Store) {
	t.Run("postings", func(t *testing.T) { testPostings(t, open(t)) })
	t.Run("subscriptions", func(t *testing.T) { testSubscriptions(t, open(t)) })
	t.Run("batch sizing", func(t *testing.T) { testBatchSizing(t, open(t)) })
	t.Run("concurrent claims", func(t *testing.T) { testConcurrentClaims(t, open(t)) })
	t.Run("guarded settle", func(t *testing.T) { testGuardedSettle(t, open(t)) })
	t.Run("bounded retry", func(t *testing.T) { testBoundedRetry(t, open(t)) })
	t.Run("staleness reclaim", func(t *testing.T) { testStalenessReclaim(t, open(t)) })
	t.Run("reset waits out staleness", func(t *testing.T) { testResetWaitsOutStaleness(t, open(t)) })
}

// enqueueN inserts n pending records created one second apart.
func enqueueN(t *testing.T, s Store, n int) {
	t.Helper()
	records := make([]model.NotificationRecord, n)
	for i := range records {
		records[i] = model.NotificationRecord{
			Channel:   model.ChannelEmail,
			Recipient: fmt.Sprintf("user%02d@example.com", i),
			Content:   model.Content{Subject: fmt.Sprintf("subject %d", i), Body: "<p>body</p>"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	require.NoError(t, s.Enqueue(context.Background(), records))
}

func claim(t *testing.T, s Store, limit int, now time.Time) []model.NotificationRecord {
	t.Helper()
	got, err := s.ClaimPending(context.Background(), model.ClaimParams{
		Limit:       limit,
		StaleBefore: now.Add(-staleAfter),
		Now:         now,
	})
	require.NoError(t, err)
	return got
}

func recipients(records []model.NotificationRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Recipient
	}
	return out
}

func testPostings(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.LatestBySource(ctx, "eumc")
	require.NoError(t, err)
	assert.False(t, ok, "empty store has no cursor")

	end := base.Add(72 * time.Hour)
	first, err := s.InsertPosting(ctx, model.Posting{
		SourceID: "eumc", ExternalID: "101", Title: "간호사 채용", URL: "https://example.com/101",
		StartAt: base, EndAt: &end, CreatedAt: base,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second, err := s.InsertPosting(ctx, model.Posting{
		SourceID: "eumc", ExternalID: "99", Title: "약사 채용", URL: "https://example.com/99",
		StartAt: base, IsOpenUntilFilled: true, CreatedAt: base,
	})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	_, err = s.InsertPosting(ctx, model.Posting{SourceID: "eumc", ExternalID: "101", Title: "dup", StartAt: base})
	assert.ErrorIs(t, err, model.ErrDuplicateKey)

	// The same external id under another source is a different posting.
	_, err = s.InsertPosting(ctx, model.Posting{SourceID: "caumc", ExternalID: "101", Title: "other", StartAt: base})
	require.NoError(t, err)

	latest, ok, err := s.LatestBySource(ctx, "eumc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "99", latest.ExternalID, "cursor follows insertion order, not external id")
	assert.True(t, latest.IsOpenUntilFilled)
	assert.Nil(t, latest.EndAt)

	listed, err := s.ListPostings(ctx, "eumc", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.NotNil(t, listed[1].EndAt)
	assert.True(t, listed[1].EndAt.Equal(end))
	assert.True(t, listed[1].StartAt.Equal(base))
}

func testSubscriptions(t *testing.T, s Store) {
	ctx := context.Background()

	nurse, err := s.CreateSubscription(ctx, model.Subscription{Email: "a@example.com", Keywords: []string{"nurse", "ICU"}, SourceID: "A"})
	require.NoError(t, err)
	assert.NotZero(t, nurse.ID)
	_, err = s.CreateSubscription(ctx, model.Subscription{Email: "b@example.com", Keywords: nil, SourceID: "B"})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, model.Subscription{Email: "c@example.com", Keywords: []string{"pharmacist"}, SourceID: "C"})
	require.NoError(t, err)

	subs, err := s.ListBySources(ctx, []string{"A", "B"})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"nurse", "ICU"}, subs[0].Keywords)
	assert.Empty(t, subs[1].Keywords)

	none, err := s.ListBySources(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testBatchSizing(t *testing.T, s Store) {
	enqueueN(t, s, 15)
	now := base.Add(time.Minute)

	first := claim(t, s, 10, now)
	require.Len(t, first, 10)
	assert.Equal(t, "user00@example.com", first[0].Recipient, "oldest first")
	assert.Equal(t, "user09@example.com", first[9].Recipient)
	for _, r := range first {
		assert.Equal(t, model.StatusProcessing, r.Status)
		require.NotNil(t, r.ProcessingStartedAt)
		assert.True(t, r.ProcessingStartedAt.Equal(now))
	}

	second := claim(t, s, 10, now)
	require.Len(t, second, 5)
	assert.Equal(t, "user10@example.com", second[0].Recipient)

	assert.Empty(t, claim(t, s, 10, now))
}

func testConcurrentClaims(t *testing.T, s Store) {
	enqueueN(t, s, 15)
	now := base.Add(time.Minute)

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	g, ctx := errgroup.WithContext(context.Background())
	for range 6 {
		g.Go(func() error {
			got, err := s.ClaimPending(ctx, model.ClaimParams{Limit: 4, StaleBefore: now.Add(-staleAfter), Now: now})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range got {
				seen[r.ID]++
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, seen, 15, "every record claimed")
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %d claimed more than once", id)
	}
}

func testGuardedSettle(t *testing.T, s Store) {
	ctx := context.Background()
	enqueueN(t, s, 1)

	pendingID := int64(1)
	ok, err := s.MarkSent(ctx, pendingID, base)
	require.NoError(t, err)
	assert.False(t, ok, "pending records cannot be settled")

	now := base.Add(time.Minute)
	got := claim(t, s, 10, now)
	require.Len(t, got, 1)
	id := got[0].ID

	ok, err = s.MarkSent(ctx, id, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkFailed(ctx, id, "late failure", now)
	require.NoError(t, err)
	assert.False(t, ok, "sent records cannot fail")

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, rec.Status)
	require.NotNil(t, rec.SentAt)
	assert.True(t, rec.SentAt.Equal(now))

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testBoundedRetry(t *testing.T, s Store) {
	ctx := context.Background()
	enqueueN(t, s, 1)
	now := base

	for attempt := 1; attempt <= maxRetries; attempt++ {
		now = now.Add(staleAfter + time.Second)
		got := claim(t, s, 10, now)
		require.Len(t, got, 1, "attempt %d", attempt)

		ok, err := s.MarkFailed(ctx, got[0].ID, "smtp: 451 try later", now)
		require.NoError(t, err)
		require.True(t, ok)

		n, err := s.ResetFailed(ctx, maxRetries, now)
		require.NoError(t, err)
		if attempt < maxRetries {
			assert.Equal(t, 1, n, "attempt %d should be retried", attempt)
		} else {
			assert.Equal(t, 0, n, "budget exhausted")
		}
	}

	now = now.Add(staleAfter + time.Second)
	assert.Empty(t, claim(t, s, 10, now))

	rec, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, maxRetries, rec.RetryCount)
	assert.True(t, rec.Terminal(maxRetries))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusFailed])
	assert.Equal(t, 0, counts[model.StatusPending])
}

func testStalenessReclaim(t *testing.T, s Store) {
	enqueueN(t, s, 1)
	t0 := base.Add(time.Minute)

	require.Len(t, claim(t, s, 10, t0), 1)
	assert.Empty(t, claim(t, s, 10, t0.Add(time.Minute)), "fresh processing record is held")

	reclaimed := claim(t, s, 10, t0.Add(staleAfter+time.Second))
	require.Len(t, reclaimed, 1, "abandoned record becomes claimable")
	assert.Empty(t, claim(t, s, 10, t0.Add(staleAfter+2*time.Second)), "reclaimed once per interval")
}

func testResetWaitsOutStaleness(t *testing.T, s Store) {
	ctx := context.Background()
	enqueueN(t, s, 1)
	t0 := base.Add(time.Minute)

	got := claim(t, s, 10, t0)
	require.Len(t, got, 1)
	ok, err := s.MarkFailed(ctx, got[0].ID, "boom", t0)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.ResetFailed(ctx, maxRetries, t0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	assert.Empty(t, claim(t, s, 10, t0.Add(time.Minute)), "retry waits for the staleness window")
	assert.Len(t, claim(t, s, 10, t0.Add(staleAfter+time.Second)), 1)
}

func TestOpen_SQLitePath(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)
}

func TestNopCursor(t *testing.T) {
	_, ok, err := NewNopCursor().LatestBySource(context.Background(), "eumc")
	require.NoError(t, err)
	assert.False(t, ok)
}
