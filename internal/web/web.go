package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/satoqz/rapla-sync/internal/config"
	"github.com/satoqz/rapla-sync/internal/ics"
	appLog "github.com/satoqz/rapla-sync/internal/log"
	"github.com/satoqz/rapla-sync/internal/rapla"
)

// Server exposes timetable conversion over HTTP: GET /{key} fetches the
// upstream page for that key and responds with the converted calendar.
type Server struct {
	cfg       *config.Config
	fetcher   *rapla.Fetcher
	extractor *rapla.Extractor
	mux       *http.ServeMux

	// Extracted calendars are cached per key so repeated subscriptions
	// from calendar apps do not hammer the upstream on every poll.
	cacheMu  sync.RWMutex
	cache    map[string]*cacheEntry
	cacheTTL time.Duration
}

// cacheEntry holds one extracted calendar and its timestamp.
type cacheEntry struct {
	calendar  *rapla.Calendar
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config) *Server {
	s := &Server{
		cfg:       cfg,
		fetcher:   rapla.NewFetcher(time.Duration(cfg.TimeoutSeconds)*time.Second, cfg.UserAgent),
		extractor: rapla.NewExtractor(),
		mux:       http.NewServeMux(),
		cache:     make(map[string]*cacheEntry),
		cacheTTL:  time.Duration(cfg.CacheTTLMinutes) * time.Minute,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves GET /{key} and GET /{key}.ics as iCalendar text,
// or the structured calendar as JSON with ?format=json.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	key := strings.Trim(r.URL.Path, "/")
	key = strings.TrimSuffix(key, ".ics")
	if key == "" || strings.Contains(key, "/") {
		http.NotFound(w, r)
		return
	}

	cal, err := s.calendarForKey(r.Context(), key)
	if err != nil {
		appLog.Error("conversion failed", err, "key", key)
		writeError(w, http.StatusBadGateway, "failed to convert timetable")
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, cal)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+key+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Serialize(cal)))
}

// calendarForKey returns a cached calendar if it is still fresh and
// otherwise fetches and extracts a new one.
func (s *Server) calendarForKey(ctx context.Context, key string) (*rapla.Calendar, error) {
	s.cacheMu.RLock()
	entry := s.cache[key]
	s.cacheMu.RUnlock()
	if entry != nil && time.Since(entry.updatedAt) < s.cacheTTL {
		return entry.calendar, nil
	}

	cal, err := s.fetcher.FetchCalendar(ctx, rapla.UpstreamURL(s.cfg.Upstream, key), s.extractor)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[key] = &cacheEntry{calendar: cal, updatedAt: time.Now()}
	s.cacheMu.Unlock()

	return cal, nil
}

// refreshKeys re-fetches all configured keys. Errors are logged per key;
// a failed refresh keeps the previous cache entry, only the strict
// request path surfaces failures to clients.
func (s *Server) refreshKeys(ctx context.Context) {
	for _, key := range s.cfg.Keys {
		cal, err := s.fetcher.FetchCalendar(ctx, rapla.UpstreamURL(s.cfg.Upstream, key), s.extractor)
		if err != nil {
			appLog.Error("background refresh failed", err, "key", key)
			continue
		}

		s.cacheMu.Lock()
		s.cache[key] = &cacheEntry{calendar: cal, updatedAt: time.Now()}
		s.cacheMu.Unlock()
	}
}

// StartServer runs the HTTP server bound to cfg.Listen until ctx is
// canceled. Configured keys are refreshed on cfg.RefreshCron so that
// their cache entries stay warm between client polls.
func StartServer(ctx context.Context, cfg *config.Config) error {
	s := NewServer(cfg)

	if len(cfg.Keys) > 0 {
		c := cron.New()
		if _, err := c.AddFunc(cfg.RefreshCron, func() { s.refreshKeys(ctx) }); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
		appLog.Info("background refresh scheduled", "cron", cfg.RefreshCron, "key_count", len(cfg.Keys))

		// Warm the cache once at startup instead of waiting for the
		// first cron tick.
		go s.refreshKeys(ctx)
	}

	srv := &http.Server{Addr: cfg.Listen, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("server shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
