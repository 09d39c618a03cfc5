// Package api exposes on-demand discovery and subscription sign-up over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/amishk599/recruitwatch/internal/discovery"
	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/queue"
	"github.com/amishk599/recruitwatch/internal/scheduler"
)

// Trigger is the subset of scheduler.Trigger the API drives.
type Trigger interface {
	DiscoverAll(ctx context.Context) ([]discovery.Result, error)
	DiscoverOne(ctx context.Context, sourceID string) (discovery.Result, error)
	DispatchPending(ctx context.Context) (queue.Summary, error)
}

// Server serves the HTTP API.
type Server struct {
	trigger      Trigger
	subs         model.SubscriptionStore
	isKnown      func(source string) bool
	hashedAPIKey string
	logger       *slog.Logger
}

// NewServer creates a Server. isKnown validates source ids on sign-up.
func NewServer(trigger Trigger, subs model.SubscriptionStore, isKnown func(string) bool, hashedAPIKey string, logger *slog.Logger) *Server {
	return &Server{
		trigger:      trigger,
		subs:         subs,
		isKnown:      isKnown,
		hashedAPIKey: hashedAPIKey,
		logger:       logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("POST /scrapers", s.requireAPIKey(http.HandlerFunc(s.handleScrape)))
	mux.HandleFunc("POST /subscriptions", s.handleCreateSubscription)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.hashedAPIKey == "" {
			s.logger.Error("HASHED_API_KEY is not configured")
			writeError(w, http.StatusInternalServerError, "server_configuration", errors.New("server configuration error"))
			return
		}
		key := r.Header.Get("x-api-key")
		if key == "" {
			s.logger.Warn("api key missing", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("API key is required"))
			return
		}
		if !checkAPIKey(key, s.hashedAPIKey) {
			s.logger.Warn("invalid api key", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", errors.New("invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scrapeRequest struct {
	Source string `json:"source"`
	Notify bool   `json:"notify"`
}

type resultJSON struct {
	Source  string `json:"source"`
	RunID   string `json:"run_id"`
	Scraped int    `json:"scraped"`
	New     int    `json:"new"`
	Skipped int    `json:"skipped"`
	Queued  int    `json:"queued"`
	Error   string `json:"error,omitempty"`
}

type dispatchJSON struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type scrapeResponse struct {
	Results  []resultJSON  `json:"results"`
	Dispatch *dispatchJSON `json:"dispatch,omitempty"`
}

func toResultJSON(r discovery.Result) resultJSON {
	out := resultJSON{
		Source:  r.Source,
		RunID:   r.RunID,
		Scraped: r.Scraped,
		New:     len(r.Persisted),
		Skipped: r.Skipped,
		Queued:  r.Queued,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// handleScrape runs discovery for one source (or all when source is empty)
// and optionally drains one queue batch afterwards.
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	ctx := r.Context()

	var results []discovery.Result
	if req.Source != "" {
		res, err := s.trigger.DiscoverOne(ctx, req.Source)
		if errors.Is(err, discovery.ErrUnknownSource) {
			writeError(w, http.StatusNotFound, "unknown_source", err)
			return
		}
		if errors.Is(err, scheduler.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", err)
			return
		}
		if err != nil && res.Err == nil {
			s.logger.Error("discovery not run", "source", req.Source, "error", err)
			writeError(w, http.StatusInternalServerError, "discovery_failed", err)
			return
		}
		results = []discovery.Result{res}
	} else {
		all, err := s.trigger.DiscoverAll(ctx)
		if errors.Is(err, scheduler.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", err)
			return
		}
		if err != nil {
			s.logger.Error("discovery not run", "error", err)
			writeError(w, http.StatusInternalServerError, "discovery_failed", err)
			return
		}
		results = all
	}

	resp := scrapeResponse{Results: make([]resultJSON, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, toResultJSON(res))
	}

	if req.Notify {
		sum, err := s.trigger.DispatchPending(ctx)
		if err != nil {
			s.logger.Error("dispatch after scrape failed", "error", err)
			writeError(w, http.StatusInternalServerError, "dispatch_failed", err)
			return
		}
		resp.Dispatch = &dispatchJSON{Claimed: sum.Claimed, Sent: sum.Sent, Failed: sum.Failed}
	}

	writeJSON(w, http.StatusOK, resp)
}

type subscriptionRequest struct {
	Email    string   `json:"email"`
	Keywords []string `json:"keywords"`
	Source   string   `json:"source"`
}

type subscriptionJSON struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Keywords  []string  `json:"keywords"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email", err)
		return
	}
	if !s.isKnown(req.Source) {
		writeError(w, http.StatusBadRequest, "unknown_source", fmt.Errorf("unknown source %q", req.Source))
		return
	}
	keywords := make([]string, 0, len(req.Keywords))
	for _, kw := range req.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}

	sub, err := s.subs.CreateSubscription(r.Context(), model.Subscription{
		Email:    addr.Address,
		Keywords: keywords,
		SourceID: req.Source,
	})
	if err != nil {
		s.logger.Error("creating subscription failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_failed", errors.New("could not save subscription"))
		return
	}
	if len(keywords) == 0 {
		s.logger.Warn("subscription without keywords will match nothing", "subscription_id", sub.ID)
	}

	writeJSON(w, http.StatusCreated, subscriptionJSON{
		ID:        sub.ID,
		Email:     sub.Email,
		Keywords:  sub.Keywords,
		Source:    sub.SourceID,
		CreatedAt: sub.CreatedAt,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func writeError(w http.ResponseWriter, code int, errCode string, err error) {
	writeJSON(w, code, map[string]string{"error": errCode, "message": err.Error()})
}
