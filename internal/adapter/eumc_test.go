package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

const eumcPayload = `{
	"data": [
		{
			"id": 812,
			"title": "간호부 신규간호사 채용",
			"status": {"code": "ing", "text": "접수중"},
			"categories": [{"id": 1, "value": "nurse", "text": "간호직"}],
			"start": "2025-05-01 09:00:00",
			"end": "2025-05-20 18:00:00",
			"links": {"jobs.show": "https://eumc.applyin.co.kr/jobs/812"},
			"content": null
		},
		{
			"id": 811,
			"title": "진료지원 인력 &amp; 보조",
			"status": {"code": "ing", "text": "접수중"},
			"categories": [{"id": 9, "value": "always", "text": "수시"}],
			"start": "2025-04-28",
			"end": "2025-12-31",
			"links": {"jobs.show": "https://eumc.applyin.co.kr/jobs/811"},
			"content": null
		}
	]
}`

func TestEUMCScrape_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "1" {
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(eumcPayload))
	}))
	defer srv.Close()

	a := NewEUMCAdapter(rewriteClient(srv), stubCursor{}, fastAPIOptions(), discardLogger())
	got, err := a.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if ids := externalIDs(got); !slices.Equal(ids, []string{"811", "812"}) {
		t.Fatalf("expected chronological [811 812], got %v", ids)
	}

	open := got[0]
	if !open.IsOpenUntilFilled || open.EndAt != nil {
		t.Errorf("expected 수시 posting to be open until filled without end, got %+v", open)
	}
	if open.Title != "진료지원 인력 & 보조" {
		t.Errorf("unexpected title %q", open.Title)
	}

	p := got[1]
	if p.URL != "https://eumc.applyin.co.kr/jobs/812" {
		t.Errorf("unexpected url %q", p.URL)
	}
	if !p.StartAt.Equal(time.Date(2025, 5, 1, 9, 0, 0, 0, seoul)) {
		t.Errorf("unexpected start %v", p.StartAt)
	}
	if p.EndAt == nil || !p.EndAt.Equal(time.Date(2025, 5, 20, 18, 0, 0, 0, seoul)) {
		t.Errorf("unexpected end %v", p.EndAt)
	}
}

func TestEUMCScrape_StopsAtCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(eumcPayload))
	}))
	defer srv.Close()

	a := NewEUMCAdapter(rewriteClient(srv), stubCursor{externalID: "811"}, fastAPIOptions(), discardLogger())
	got, err := a.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if ids := externalIDs(got); !slices.Equal(ids, []string{"812"}) {
		t.Fatalf("expected [812], got %v", ids)
	}
}

func TestEUMCScrape_MissingStartUsesNow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":1,"title":"t","categories":[],"start":"","end":"","links":{}}]}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewEUMCAdapter(rewriteClient(srv), stubCursor{}, fastAPIOptions(), discardLogger())
	a.now = func() time.Time { return now }

	got, err := a.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(got) != 1 || !got[0].StartAt.Equal(now) {
		t.Fatalf("expected start at fetch time, got %+v", got)
	}
}

func TestEUMCScrape_SchemaChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jobs": []}`))
	}))
	defer srv.Close()

	a := NewEUMCAdapter(rewriteClient(srv), stubCursor{}, fastAPIOptions(), discardLogger())
	_, err := a.Scrape(context.Background())
	var structural *model.StructuralChangeError
	if !errors.As(err, &structural) {
		t.Fatalf("expected StructuralChangeError, got %v", err)
	}
}

func TestEUMCScrape_ServerErrorIsRetriedThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewEUMCAdapter(rewriteClient(srv), stubCursor{}, fastAPIOptions(), discardLogger())
	_, err := a.Scrape(context.Background())

	var transient *model.TransientFetchError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientFetchError, got %v", err)
	}
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected HTTP 502 inside, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
