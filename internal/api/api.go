// Package api exposes the daemon's HTTP surface: refresh control, status,
// catalog queries, playback source resolution, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snapetech/xtreamcache/internal/cache"
	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/health"
	"github.com/snapetech/xtreamcache/internal/logx"
	"github.com/snapetech/xtreamcache/internal/mediasource"
	"github.com/snapetech/xtreamcache/internal/nameparse"
)

// Coordinator is the cache surface the API drives.
type Coordinator interface {
	TriggerRefresh() (cache.Handle, bool)
	CancelRefresh() bool
	InvalidateCache()
	GetStatus() cache.Status
	Snapshot() *catalog.Snapshot
	IsCachePopulated() bool
}

// HealthChecker runs the daemon self-checks.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Server wires the HTTP routes. Construct with New and mount Router on an
// http.Server.
type Server struct {
	coord   Coordinator
	builder *mediasource.Builder
	checker HealthChecker
	log     zerolog.Logger
}

// New returns a Server. checker may be nil; /healthz then reports only cache
// population.
func New(coord Coordinator, builder *mediasource.Builder, checker HealthChecker) *Server {
	return &Server{
		coord:   coord,
		builder: builder,
		checker: checker,
		log:     logx.WithComponent("api"),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/clear", s.handleClear)

		r.Get("/{kind}/categories", s.handleCategories)
		r.Get("/live/categories/{id}/channels", s.kindEntries(catalog.KindLive))
		r.Get("/vod/categories/{id}/items", s.kindEntries(catalog.KindVOD))
		r.Get("/series/categories/{id}/items", s.kindEntries(catalog.KindSeries))

		r.Get("/{kind}/{id}/source", s.handleSource)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.log.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusResponse struct {
	cache.Status
	IsCachePopulated bool `json:"is_cache_populated"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:           s.coord.GetStatus(),
		IsCachePopulated: s.coord.IsCachePopulated(),
	})
}

type refreshResponse struct {
	RefreshID string `json:"refresh_id"`
	Started   bool   `json:"started"`
}

// handleRefresh starts a background refresh. 202 when a new run starts; 409
// with Retry-After when one is already in flight, echoing its id so the
// caller can poll the same run.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	h, started := s.coord.TriggerRefresh()
	if !started {
		w.Header().Set("Retry-After", "10")
		writeJSON(w, http.StatusConflict, refreshResponse{RefreshID: h.ID})
		return
	}
	writeJSON(w, http.StatusAccepted, refreshResponse{RefreshID: h.ID, Started: true})
}

type clearResponse struct {
	Interrupted bool `json:"refresh_interrupted"`
}

// handleClear cancels any in-flight refresh, then invalidates the published
// snapshot. An already-started run can no longer publish after this returns.
func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	interrupted := s.coord.CancelRefresh()
	s.coord.InvalidateCache()
	writeJSON(w, http.StatusOK, clearResponse{Interrupted: interrupted})
}

type categoryView struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleCategories(w http.ResponseWriter, req *http.Request) {
	kind := catalog.Kind(chi.URLParam(req, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown kind")
		return
	}
	cats := s.coord.Snapshot().Categories(kind)
	out := make([]categoryView, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryView{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

type entryView struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	RawName     string   `json:"raw_name,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Number      int      `json:"number,omitempty"`
	LogoURL     string   `json:"logo_url,omitempty"`
	HasCatchup  bool     `json:"has_catchup,omitempty"`
	CatchupDays int      `json:"catchup_days,omitempty"`
}

// kindEntries lists one category's entries with display names cleaned of
// provider edge tokens; the tokens come back as tags.
func (s *Server) kindEntries(kind catalog.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "category id must be numeric")
			return
		}
		entries := s.coord.Snapshot().Entries(kind, id)
		out := make([]entryView, 0, len(entries))
		for _, e := range entries {
			parsed := nameparse.Parse(e.Name)
			view := entryView{
				ID:          e.ID,
				Name:        parsed.Title,
				Tags:        parsed.Tags,
				Number:      e.Number,
				LogoURL:     e.LogoURL,
				HasCatchup:  e.HasCatchup,
				CatchupDays: e.CatchupDays,
			}
			if parsed.Title != e.Name {
				view.RawName = e.Name
			}
			out = append(out, view)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleSource resolves an entry to its playback descriptor. The entry must
// exist in the published snapshot; the daemon never mints URLs for unknown
// ids.
func (s *Server) handleSource(w http.ResponseWriter, req *http.Request) {
	kind := catalog.Kind(chi.URLParam(req, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown kind")
		return
	}
	id, err := strconv.Atoi(chi.URLParam(req, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "stream id must be numeric")
		return
	}
	entry, ok := s.coord.Snapshot().Entry(kind, id)
	if !ok {
		writeError(w, http.StatusNotFound, "no such entry in the published catalog")
		return
	}
	writeJSON(w, http.StatusOK, s.builder.Build(kind, entry.ID, entry.ContainerExt))
}

func (s *Server) handleHealthz(w http.ResponseWriter, req *http.Request) {
	var rep health.Report
	if s.checker != nil {
		rep = s.checker.Check(req.Context())
	} else {
		rep = health.Report{CachePopulated: s.coord.Snapshot().Populated()}
	}
	code := http.StatusOK
	if !rep.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
