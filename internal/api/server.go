// Package api is the local control surface: the panel and settings UI talk
// to the controller over these endpoints. Binds to loopback in practice;
// there is no auth layer of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/focusgate/focusgate/internal/category"
	"github.com/focusgate/focusgate/internal/notify"
	"github.com/focusgate/focusgate/internal/pool"
	"github.com/focusgate/focusgate/internal/session"
	"github.com/focusgate/focusgate/internal/storage"
	"github.com/focusgate/focusgate/internal/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Server exposes the session, deny-list, and time-bucket endpoints.
type Server struct {
	addr     string
	machine  *session.Machine
	store    storage.Store
	pool     *pool.Pool
	agg      *tracker.Aggregator
	notifier *notify.Broker
	log      zerolog.Logger
}

// New constructs a Server. pool may be nil when outward propagation is
// disabled (dry-run).
func New(addr string, machine *session.Machine, store storage.Store,
	p *pool.Pool, agg *tracker.Aggregator, notifier *notify.Broker, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		machine:  machine,
		store:    store,
		pool:     p,
		agg:      agg,
		notifier: notifier,
		log:      log,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/session/start", s.handleStart)
		r.Post("/session/stop", s.handleStop)
		r.Get("/session/status", s.handleStatus)

		r.Get("/denylist", s.handleDenyList)
		r.Post("/denylist", s.handleDenyAdd)
		r.Delete("/denylist/{domain}", s.handleDenyRemove)

		r.Put("/active", s.handleActiveSet)
		r.Delete("/active", s.handleActiveClear)

		r.Get("/buckets/{day}", s.handleDayBuckets)

		r.Get("/events", s.handleEvents)
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("api server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// --- Session ----------------------------------------------------------------

type startRequest struct {
	DurationMinutes int  `json:"durationMinutes"`
	Hard            bool `json:"hard"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DurationMinutes < 0 {
		writeError(w, http.StatusBadRequest, "durationMinutes must not be negative")
		return
	}
	if err := s.machine.Start(r.Context(), req.DurationMinutes, req.Hard); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.machine.Query())
}

type stopRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	// Force from the panel is not honoured; locks end on their own.
	err := s.machine.Stop(r.Context(), false)
	if errors.Is(err, session.ErrSessionLocked) {
		writeJSON(w, http.StatusConflict, s.machine.Query())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.machine.Query())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.machine.Query())
}

// --- Deny list --------------------------------------------------------------

type denyAddRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleDenyList(w http.ResponseWriter, r *http.Request) {
	deny, err := s.store.DenyList()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deny == nil {
		deny = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"domains": deny})
}

func (s *Server) handleDenyAdd(w http.ResponseWriter, r *http.Request) {
	var req denyAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := category.Normalize(req.Domain)
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	added, err := s.store.AddDenied(domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if added {
		s.afterDenyEdit(r.Context(), "add", domain)
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "added": added})
}

func (s *Server) handleDenyRemove(w http.ResponseWriter, r *http.Request) {
	domain := category.Normalize(chi.URLParam(r, "domain"))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	removed, err := s.store.RemoveDenied(domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if removed {
		s.afterDenyEdit(r.Context(), "remove", domain)
	}
	writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "removed": removed})
}

// afterDenyEdit runs the side effects of a committed deny edit: rules are
// re-synthesized while a session is live, the edit is mirrored outward, and
// subscribers are told. The local commit already happened; none of these
// can fail the request.
func (s *Server) afterDenyEdit(ctx context.Context, action, domain string) {
	if s.machine.Query().Status != session.StatusOff {
		s.machine.Reinstall(ctx)
	}
	if s.pool != nil {
		s.pool.Enqueue(pool.SyncJob{Action: action, Domain: domain})
	}
	if s.notifier != nil {
		s.notifier.Publish(notify.EventDenyList, map[string]string{
			"action": action, "domain": domain,
		})
	}
}

// --- Active destination -----------------------------------------------------

type activeRequest struct {
	Domain string `json:"domain"`
}

// handleActiveSet names the destination that subsequent tracker ticks are
// attributed to. The host shell reports the foreground destination here on
// every focus change. An empty domain clears attribution, same as DELETE.
func (s *Server) handleActiveSet(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	domain := category.Normalize(req.Domain)
	if domain == "" {
		s.agg.ClearActive()
	} else {
		s.agg.SetActive(domain)
	}
	writeJSON(w, http.StatusOK, map[string]string{"domain": domain})
}

// handleActiveClear stops attributing ticks to any destination, e.g. when
// the screen locks or no window has focus.
func (s *Server) handleActiveClear(w http.ResponseWriter, r *http.Request) {
	s.agg.ClearActive()
	writeJSON(w, http.StatusOK, map[string]string{"domain": ""})
}

// --- Time buckets -----------------------------------------------------------

func (s *Server) handleDayBuckets(w http.ResponseWriter, r *http.Request) {
	day := chi.URLParam(r, "day")
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	buckets, err := s.store.DayBuckets(day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"day": day, "buckets": buckets})
}

// --- Events (SSE) -----------------------------------------------------------

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(sub)

	// Initial snapshot so a reconnecting panel renders without waiting
	// for the next mutation.
	s.sendEvent(w, flusher, notify.EventSession, s.machine.Query())

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-sub.Events:
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
	flusher.Flush()
}

// --- Helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
