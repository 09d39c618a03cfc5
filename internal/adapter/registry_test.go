package adapter

import (
	"context"
	"slices"
	"testing"

	"github.com/amishk599/recruitwatch/internal/model"
)

type namedAdapter string

func (n namedAdapter) Source() string { return string(n) }

func (n namedAdapter) Scrape(context.Context) ([]model.Posting, error) { return nil, nil }

func TestRegistry_OrderAndLookup(t *testing.T) {
	r, err := NewRegistry(namedAdapter(SourceEUMC), namedAdapter(SourceSeverance))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if got := r.Sources(); !slices.Equal(got, []string{SourceEUMC, SourceSeverance}) {
		t.Fatalf("unexpected order %v", got)
	}
	if a, ok := r.Get(SourceSeverance); !ok || a.Source() != SourceSeverance {
		t.Fatal("expected severance adapter")
	}
	if _, ok := r.Get("unknown"); ok {
		t.Fatal("expected lookup of unknown source to fail")
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(namedAdapter(SourceEUMC), namedAdapter(SourceEUMC)); err == nil {
		t.Fatal("expected error for duplicate source")
	}
	if _, err := NewRegistry(namedAdapter("")); err == nil {
		t.Fatal("expected error for empty source id")
	}
}

func TestIsKnown(t *testing.T) {
	for _, s := range KnownSources {
		if !IsKnown(s) {
			t.Errorf("expected %q to be known", s)
		}
	}
	if IsKnown("greenhouse") {
		t.Error("greenhouse is not a supported source")
	}
}

func TestDisplayNameAndListingURLs(t *testing.T) {
	if got := DisplayName(SourceEUMC); got != "이화여자대학교의료원" {
		t.Errorf("DisplayName(eumc) = %q", got)
	}
	if got := DisplayName("other"); got != "other" {
		t.Errorf("unknown source should fall back to its id, got %q", got)
	}

	links := ListingURLs()
	for _, s := range KnownSources {
		if links[s] == "" {
			t.Errorf("missing listing URL for %s", s)
		}
	}
	if got := links[SourceSeverance]; got != "https://yuhs.recruiter.co.kr/app/jobnotice/list" {
		t.Errorf("severance listing = %q", got)
	}
}
