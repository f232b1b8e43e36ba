// Package web serves a read-only JSON API over sessions and the event log.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucasnoah/reelfactory/internal/analytics"
	"github.com/lucasnoah/reelfactory/internal/db"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// EventLog is the read side of the event log. *db.DB implements it.
type EventLog interface {
	analytics.DB
	LatestRunEvent(sessionID string) (*db.RunEvent, error)
}

// Server is the read-only API server.
type Server struct {
	store  *pipeline.Store
	events EventLog
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates a Server. events may be nil, in which case the
// timeline and stats endpoints answer 503.
func NewServer(store *pipeline.Store, events EventLog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{store: store, events: events, logger: logger, now: time.Now}
}

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessions)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(validSession)
			r.Get("/", s.handleSession)
			r.Get("/stages/{stage}", s.handleStageOutput)
			r.Get("/timeline", s.handleTimeline)
			r.Get("/files/*", s.handleFile)
		})
		r.Get("/stats/stages", s.handleStageStats)
		r.Get("/stats/failures", s.handleFailureKinds)
	})
	return r
}

// Start listens on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("serving session API", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func validSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionIDRe.MatchString(chi.URLParam(r, "id")) {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		next.ServeHTTP(w, r)
	})
}
