package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/amishk599/recruitwatch/internal/model"
)

// --- Fakes ---

// memJobStore enforces the (externalId, sourceId) key and assigns ids in
// insertion order.
type memJobStore struct {
	mu      sync.Mutex
	rows    []model.Posting
	failOn  string // externalId whose insert fails with a non-duplicate error
	readErr error
}

func (s *memJobStore) LatestBySource(_ context.Context, source string) (model.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return model.Posting{}, false, s.readErr
	}
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].SourceID == source {
			return s.rows[i], true, nil
		}
	}
	return model.Posting{}, false, nil
}

func (s *memJobStore) InsertPosting(_ context.Context, p model.Posting) (model.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ExternalID == s.failOn {
		return model.Posting{}, errors.New("disk full")
	}
	for _, r := range s.rows {
		if r.SourceID == p.SourceID && r.ExternalID == p.ExternalID {
			return model.Posting{}, model.ErrDuplicateKey
		}
	}
	p.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, p)
	return p, nil
}

func (s *memJobStore) seed(source string, ids ...string) {
	for _, id := range ids {
		s.InsertPosting(context.Background(), model.Posting{SourceID: source, ExternalID: id})
	}
}

func (s *memJobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// listingAdapter serves a remote listing (newest first) and honours the
// stored cursor the way real adapters do.
type listingAdapter struct {
	source       string
	listing      []string
	cursor       model.CursorReader
	ignoreCursor bool
	err          error
}

func (a *listingAdapter) Source() string { return a.source }

func (a *listingAdapter) Scrape(ctx context.Context) ([]model.Posting, error) {
	if a.err != nil {
		return nil, a.err
	}
	cursor := ""
	if !a.ignoreCursor {
		latest, ok, err := a.cursor.LatestBySource(ctx, a.source)
		if err != nil {
			return nil, err
		}
		if ok {
			cursor = latest.ExternalID
		}
	}
	var newestFirst []model.Posting
	for _, id := range a.listing {
		if id == cursor {
			break
		}
		newestFirst = append(newestFirst, model.Posting{SourceID: a.source, ExternalID: id, Title: "posting " + id})
	}
	slices.Reverse(newestFirst)
	return newestFirst, nil
}

type mapRegistry struct {
	order    []string
	adapters map[string]model.SourceAdapter
}

func newMapRegistry(adapters ...model.SourceAdapter) *mapRegistry {
	r := &mapRegistry{adapters: make(map[string]model.SourceAdapter)}
	for _, a := range adapters {
		r.order = append(r.order, a.Source())
		r.adapters[a.Source()] = a
	}
	return r
}

func (r *mapRegistry) Get(id string) (model.SourceAdapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

func (r *mapRegistry) Sources() []string { return r.order }

// recordingMatcher records which postings were handed over.
type recordingMatcher struct {
	got []model.Posting
	err error
}

func (m *recordingMatcher) Match(_ context.Context, postings []model.Posting) (int, error) {
	m.got = append(m.got, postings...)
	return len(postings), m.err
}

type recordingAlerter struct {
	sources []string
}

func (a *recordingAlerter) Alert(_ context.Context, source string, _ error) error {
	a.sources = append(a.sources, source)
	return nil
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func externalIDs(postings []model.Posting) []string {
	ids := make([]string, len(postings))
	for i, p := range postings {
		ids[i] = p.ExternalID
	}
	return ids
}

// --- Tests ---

func TestDiscoverOne_CursorCorrectness(t *testing.T) {
	store := &memJobStore{}
	store.seed("A", "ext1", "ext2", "ext3")
	adapter := &listingAdapter{source: "A", listing: []string{"ext5", "ext4", "ext3", "ext2", "ext1"}, cursor: store}
	matcher := &recordingMatcher{}
	c := NewCoordinator(newMapRegistry(adapter), store, matcher, nil, discardLogger())

	res, err := c.DiscoverOne(context.Background(), "A")
	if err != nil {
		t.Fatalf("DiscoverOne: %v", err)
	}

	if ids := externalIDs(res.Persisted); !slices.Equal(ids, []string{"ext4", "ext5"}) {
		t.Fatalf("expected [ext4 ext5], got %v", ids)
	}
	if ids := externalIDs(matcher.got); !slices.Equal(ids, []string{"ext4", "ext5"}) {
		t.Fatalf("matcher expected [ext4 ext5], got %v", ids)
	}
	for _, p := range matcher.got {
		if p.ID == 0 {
			t.Errorf("matcher must receive stored postings with ids, got %+v", p)
		}
		if p.CreatedAt.IsZero() {
			t.Errorf("createdAt must be set, got %+v", p)
		}
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestDiscoverOne_Idempotent(t *testing.T) {
	store := &memJobStore{}
	adapter := &listingAdapter{source: "A", listing: []string{"ext3", "ext2", "ext1"}, cursor: store}
	matcher := &recordingMatcher{}
	c := NewCoordinator(newMapRegistry(adapter), store, matcher, nil, discardLogger())

	first, err := c.DiscoverOne(context.Background(), "A")
	if err != nil {
		t.Fatalf("first DiscoverOne: %v", err)
	}
	if len(first.Persisted) != 3 {
		t.Fatalf("expected 3 postings on first run, got %d", len(first.Persisted))
	}

	second, err := c.DiscoverOne(context.Background(), "A")
	if err != nil {
		t.Fatalf("second DiscoverOne: %v", err)
	}
	if len(second.Persisted) != 0 {
		t.Fatalf("expected no new postings on second run, got %v", externalIDs(second.Persisted))
	}
	if store.count() != 3 {
		t.Fatalf("expected 3 stored postings, got %d", store.count())
	}
	if len(matcher.got) != 3 {
		t.Fatalf("matcher should only see the first run, got %d", len(matcher.got))
	}
}

func TestDiscoverOne_RecheckDropsRowsStoredByConcurrentRun(t *testing.T) {
	store := &memJobStore{}
	store.seed("A", "ext1", "ext2", "ext3", "ext4")
	// The adapter read an older cursor (ext2) before another run stored ext3 and ext4.
	adapter := &listingAdapter{source: "A", listing: []string{"ext5", "ext4", "ext3", "ext2"}, ignoreCursor: true}
	matcher := &recordingMatcher{}
	c := NewCoordinator(newMapRegistry(adapter), store, matcher, nil, discardLogger())

	res, err := c.DiscoverOne(context.Background(), "A")
	if err != nil {
		t.Fatalf("DiscoverOne: %v", err)
	}
	if ids := externalIDs(res.Persisted); !slices.Equal(ids, []string{"ext5"}) {
		t.Fatalf("expected [ext5], got %v", ids)
	}
	if res.Skipped != 3 {
		t.Errorf("expected 3 skipped, got %d", res.Skipped)
	}
}

func TestDiscoverOne_DuplicateKeySkippedPerRecord(t *testing.T) {
	store := &memJobStore{}
	// ext4 was stored before ext3, so the cursor (ext3) does not cover it.
	store.seed("A", "ext4", "ext3")
	adapter := &listingAdapter{source: "A", listing: []string{"ext6", "ext5", "ext4"}, ignoreCursor: true}
	c := NewCoordinator(newMapRegistry(adapter), store, &recordingMatcher{}, nil, discardLogger())

	res, err := c.DiscoverOne(context.Background(), "A")
	if err != nil {
		t.Fatalf("DiscoverOne: %v", err)
	}
	if ids := externalIDs(res.Persisted); !slices.Equal(ids, []string{"ext5", "ext6"}) {
		t.Fatalf("expected [ext5 ext6], got %v", ids)
	}
	if res.Skipped != 1 {
		t.Errorf("expected 1 duplicate skipped, got %d", res.Skipped)
	}
}

func TestDiscoverOne_StoreErrorStopsBatchButMatchesStoredRows(t *testing.T) {
	store := &memJobStore{failOn: "ext2"}
	adapter := &listingAdapter{source: "A", listing: []string{"ext3", "ext2", "ext1"}, cursor: store}
	matcher := &recordingMatcher{}
	c := NewCoordinator(newMapRegistry(adapter), store, matcher, nil, discardLogger())

	res, err := c.DiscoverOne(context.Background(), "A")
	if err == nil {
		t.Fatal("expected store error")
	}
	if ids := externalIDs(res.Persisted); !slices.Equal(ids, []string{"ext1"}) {
		t.Fatalf("expected only ext1 stored, got %v", ids)
	}
	if ids := externalIDs(matcher.got); !slices.Equal(ids, []string{"ext1"}) {
		t.Fatalf("expected matcher to get ext1, got %v", ids)
	}
}

func TestDiscoverOne_UnknownSource(t *testing.T) {
	c := NewCoordinator(newMapRegistry(), &memJobStore{}, &recordingMatcher{}, nil, discardLogger())
	_, err := c.DiscoverOne(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestDiscoverAll_SkipsFailingSource(t *testing.T) {
	store := &memJobStore{}
	broken := &listingAdapter{source: "A", err: &model.TransientFetchError{Source: "A", Err: errors.New("timeout")}}
	healthy := &listingAdapter{source: "B", listing: []string{"b2", "b1"}, cursor: store}
	matcher := &recordingMatcher{}
	c := NewCoordinator(newMapRegistry(broken, healthy), store, matcher, nil, discardLogger())

	results := c.DiscoverAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected source A to report its error")
	}
	if results[1].Err != nil || len(results[1].Persisted) != 2 {
		t.Fatalf("expected source B to succeed with 2 postings, got %+v", results[1])
	}
	if ids := externalIDs(matcher.got); !slices.Equal(ids, []string{"b1", "b2"}) {
		t.Fatalf("expected matcher to get [b1 b2], got %v", ids)
	}
}

func TestDiscoverOne_StructuralChangeRaisesAlert(t *testing.T) {
	adapter := &listingAdapter{source: "A", err: &model.StructuralChangeError{Source: "A", Detail: "no .list-bbs"}}
	alerter := &recordingAlerter{}
	c := NewCoordinator(newMapRegistry(adapter), &memJobStore{}, &recordingMatcher{}, alerter, discardLogger())

	_, err := c.DiscoverOne(context.Background(), "A")
	var structural *model.StructuralChangeError
	if !errors.As(err, &structural) {
		t.Fatalf("expected StructuralChangeError, got %v", err)
	}
	if !slices.Equal(alerter.sources, []string{"A"}) {
		t.Fatalf("expected one alert for A, got %v", alerter.sources)
	}
}

func TestDiscoverOne_TransientFailureDoesNotAlert(t *testing.T) {
	adapter := &listingAdapter{source: "A", err: &model.TransientFetchError{Source: "A", Err: errors.New("reset")}}
	alerter := &recordingAlerter{}
	c := NewCoordinator(newMapRegistry(adapter), &memJobStore{}, &recordingMatcher{}, alerter, discardLogger())

	if _, err := c.DiscoverOne(context.Background(), "A"); err == nil {
		t.Fatal("expected error")
	}
	if len(alerter.sources) != 0 {
		t.Fatalf("transient failures must not alert, got %v", alerter.sources)
	}
}

func TestDiscoverAll_StopsWhenCancelled(t *testing.T) {
	store := &memJobStore{}
	a := &listingAdapter{source: "A", listing: []string{"a1"}, cursor: store}
	b := &listingAdapter{source: "B", listing: []string{"b1"}, cursor: store}
	c := NewCoordinator(newMapRegistry(a, b), store, &recordingMatcher{}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if results := c.DiscoverAll(ctx); len(results) != 0 {
		t.Fatalf("expected no runs after cancellation, got %d", len(results))
	}
}
