package adapter

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/amishk599/recruitwatch/internal/model"
)

func postingsWithIDs(ids ...string) []model.Posting {
	out := make([]model.Posting, len(ids))
	for i, id := range ids {
		out[i] = model.Posting{ExternalID: id}
	}
	return out
}

func TestCollector_StopsAtCursorAndReverses(t *testing.T) {
	c := newCollector("ext3")

	more := c.add(postingsWithIDs("ext5", "ext4", "ext3", "ext2", "ext1"))
	if more {
		t.Fatal("expected add to report the cursor was reached")
	}

	got := externalIDs(c.postings())
	want := []string{"ext4", "ext5"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCollector_CursorOnLaterPage(t *testing.T) {
	c := newCollector("ext3")

	if !c.add(postingsWithIDs("ext6", "ext5")) {
		t.Fatal("first page should not reach the cursor")
	}
	if c.add(postingsWithIDs("ext4", "ext3")) {
		t.Fatal("second page should reach the cursor")
	}
	if c.add(postingsWithIDs("ext2", "ext1")) {
		t.Fatal("pages after the cursor must be ignored")
	}

	got := externalIDs(c.postings())
	want := []string{"ext4", "ext5", "ext6"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCollector_NoCursorKeepsEverything(t *testing.T) {
	c := newCollector("")
	c.add(postingsWithIDs("b", "a"))

	got := externalIDs(c.postings())
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}
}

func TestCollector_SuppressesPinnedDuplicates(t *testing.T) {
	c := newCollector("")
	c.add(postingsWithIDs("pinned", "ext9", "ext8"))
	c.add(postingsWithIDs("pinned", "ext7"))

	got := externalIDs(c.postings())
	want := []string{"ext7", "ext8", "ext9", "pinned"}
	if !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCursorFor(t *testing.T) {
	ctx := context.Background()

	id, err := cursorFor(ctx, stubCursor{externalID: "42"}, SourceEUMC)
	if err != nil || id != "42" {
		t.Fatalf("expected 42, got %q (err %v)", id, err)
	}

	id, err = cursorFor(ctx, stubCursor{}, SourceEUMC)
	if err != nil || id != "" {
		t.Fatalf("expected empty cursor, got %q (err %v)", id, err)
	}

	boom := errors.New("db down")
	if _, err := cursorFor(ctx, stubCursor{err: boom}, SourceEUMC); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
