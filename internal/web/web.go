// Package web exposes the appointment store over a chi JSON API and pushes
// collection changes, reminders and the now-line to websocket clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"agenda/internal/auth"
	"agenda/internal/config"
	"agenda/internal/holiday"
	"agenda/internal/layout"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/store"
)

// Write endpoints share one per-IP budget.
const (
	writeRequestLimit = 120
	writeWindow       = time.Minute
	maxBodyBytes      = 8 << 20
)

// Deps are the collaborators a Server drives.
type Deps struct {
	Store   *store.Store
	Signer  *auth.Signer
	Overlay *holiday.Overlay
	// Hub is created from the config when nil.
	Hub *Hub
	Now func() time.Time
}

// Server provides the HTTP API of the calendar.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	signer  *auth.Signer
	overlay *holiday.Overlay
	hub     *Hub
	now     func() time.Time
	loc     *time.Location
	router  chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Overlay == nil {
		d.Overlay = holiday.NewOverlay(holiday.SourceFunc(func(context.Context, int) ([]model.Holiday, error) {
			return []model.Holiday{}, nil
		}))
	}
	s := &Server{
		cfg:     cfg,
		store:   d.Store,
		signer:  d.Signer,
		overlay: d.Overlay,
		hub:     d.Hub,
		now:     d.Now,
		loc:     cfg.Location(),
	}
	if s.hub == nil {
		s.hub = NewHub(d.Store, HubOptions{
			Location:  s.loc,
			WeekStart: cfg.WeekStartDay(),
			Every:     time.Duration(cfg.Reminder.NowLineSeconds) * time.Second,
			Origins:   cfg.CORS,
			Now:       d.Now,
		})
	}
	s.router = s.routes()
	return s
}

// Hub returns the websocket hub; main runs it and hands it to the reminder
// scheduler as notifier.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if len(s.cfg.CORS) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   s.cfg.CORS,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           300,
		})
		r.Use(c.Handler)
	}

	r.Get("/health", s.handleHealth)

	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled for token issuance", "listen", "http://"+s.cfg.Listen)
		r.With(s.basicAuthMiddleware).Post("/auth/token", s.handleIssueToken)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Get("/appointments", s.handleViews)
		r.Get("/appointments/{id}", s.handleGet)
		r.Get("/holidays", s.handleHolidays)
		r.Get("/calendar.ics", s.handleExport)
		r.Get("/ws", s.handleWS)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(writeRequestLimit, writeWindow))
			r.Use(middleware.RequestSize(maxBodyBytes))

			r.With(requireCap(auth.CapEdit)).Post("/appointments", s.handleCreate)
			r.With(requireCap(auth.CapEdit)).Put("/appointments/{id}", s.handleUpdate)
			r.With(requireCap(auth.CapEdit)).Post("/appointments/{id}/complete", s.handleComplete)
			r.With(requireCap(auth.CapEdit)).Post("/appointments/{id}/reopen", s.handleReopen)
			r.With(requireCap(auth.CapReschedule)).Post("/appointments/{id}/move", s.handleMove)

			r.With(requireCap(auth.CapEdit)).Post("/appointments/{id}/subtasks", s.handleAddSubtask)
			r.With(requireCap(auth.CapEdit)).Post("/appointments/{id}/subtasks/{sid}/toggle", s.handleToggleSubtask)
			r.With(requireCap(auth.CapDelete)).Delete("/appointments/{id}/subtasks/{sid}", s.handleDeleteSubtask)

			r.With(requireCap(auth.CapEdit)).Post("/import", s.handleImport)
		})
	})
	return r
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) layoutOptions() layout.Options {
	return layout.Options{
		Location:   s.loc,
		WeekStart:  s.cfg.WeekStartDay(),
		Categories: s.cfg.Categories,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
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

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
