// Package api exposes the management REST API and the websocket event
// stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upwatch/upwatch/internal/auth"
	"github.com/upwatch/upwatch/internal/bindata"
	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/contact"
	"github.com/upwatch/upwatch/internal/errdef"
	"github.com/upwatch/upwatch/internal/eventbus"
	"github.com/upwatch/upwatch/internal/metadata"
	"github.com/upwatch/upwatch/internal/monitor"
	"github.com/upwatch/upwatch/internal/monitorgroup"
	"github.com/upwatch/upwatch/internal/stats"
)

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	httpSrv  *http.Server
	logger   *slog.Logger
	validate *validator.Validate

	auth     *auth.Service
	mgr      *monitor.Manager
	contacts *contact.Store
	groups   *monitorgroup.Store
	meta     *metadata.Store
	bin      *bindata.Store
	stats    *stats.Registry
	tracer   *eventbus.Tracer
}

// NewServer creates and configures the HTTP server
func NewServer(cfg *config.Config, logger *slog.Logger, authService *auth.Service,
	mgr *monitor.Manager, contacts *contact.Store, groups *monitorgroup.Store,
	meta *metadata.Store, bin *bindata.Store, st *stats.Registry,
	tracer *eventbus.Tracer) *Server {

	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger.With("component", "api"),
		validate: validator.New(),
		auth:     authService,
		mgr:      mgr,
		contacts: contacts,
		groups:   groups,
		meta:     meta,
		bin:      bin,
		stats:    st,
		tracer:   tracer,
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(st)

	r := s.router
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))
	r.Use(chimiddleware.StripSlashes)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(JWTAuth(s.auth))

			r.Route("/monitors", func(r chi.Router) {
				r.Get("/", s.handleListMonitors)
				r.Post("/", s.handleCreateMonitor)
				r.Get("/{id}", s.handleGetMonitor)
				r.Delete("/{id}", s.handleDeleteMonitor)
				r.Put("/{id}/args", s.handleUpdateMonitorArgs)
				r.Put("/{id}/checks-enabled", s.handleSetChecksEnabled)
				r.Put("/{id}/alerts-enabled", s.handleSetAlertsEnabled)
				r.Post("/{id}/schedule", s.handleScheduleMonitor)
				r.Get("/{id}/alerts", s.handleGetMonitorAlerts)
				r.Post("/{id}/contacts", s.handleAddMonitorContact)
				r.Delete("/{id}/contacts/{contactID}", s.handleRemoveMonitorContact)
				r.Post("/{id}/contact-groups", s.handleAddMonitorContactGroup)
				r.Delete("/{id}/contact-groups/{groupID}", s.handleRemoveMonitorContactGroup)
			})

			r.Route("/monitor-defs", func(r chi.Router) {
				r.Get("/", s.handleListDefs)
				r.Post("/", s.handleCreateDef)
				r.Get("/{id}", s.handleGetDef)
				r.Put("/{id}", s.handleUpdateDef)
				r.Delete("/{id}", s.handleDeleteDef)
				r.Put("/{id}/params", s.handleSetDefParam)
				r.Delete("/{id}/params/{name}", s.handleDeleteDefParam)
			})

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", s.handleListContacts)
				r.Post("/", s.handleCreateContact)
				r.Get("/{id}", s.handleGetContact)
				r.Put("/{id}", s.handleUpdateContact)
				r.Delete("/{id}", s.handleDeleteContact)
			})

			r.Route("/contact-groups", func(r chi.Router) {
				r.Get("/", s.handleListContactGroups)
				r.Post("/", s.handleCreateContactGroup)
				r.Put("/{id}", s.handleUpdateContactGroup)
				r.Delete("/{id}", s.handleDeleteContactGroup)
				r.Post("/{id}/contacts", s.handleAddContactToGroup)
				r.Delete("/{id}/contacts/{contactID}", s.handleRemoveContactFromGroup)
			})

			r.Route("/monitor-groups", func(r chi.Router) {
				r.Get("/", s.handleListMonitorGroups)
				r.Post("/", s.handleCreateMonitorGroup)
				r.Get("/{id}", s.handleGetMonitorGroup)
				r.Put("/{id}", s.handleUpdateMonitorGroup)
				r.Delete("/{id}", s.handleDeleteMonitorGroup)
				r.Post("/{id}/monitors", s.handleAddMonitorToGroup)
				r.Delete("/{id}/monitors/{monitorID}", s.handleRemoveMonitorFromGroup)
				r.Post("/{id}/contacts", s.handleAddContactToMonitorGroup)
				r.Delete("/{id}/contacts/{contactID}", s.handleRemoveContactFromMonitorGroup)
				r.Post("/{id}/contact-groups", s.handleAddContactGroupToMonitorGroup)
				r.Delete("/{id}/contact-groups/{groupID}", s.handleRemoveContactGroupFromMonitorGroup)
			})

			r.Route("/metadata/{type}/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMetadata)
				r.Put("/", s.handleUpdateMetadata)
				r.Delete("/", s.handleDeleteMetadata)
			})

			r.Route("/bindata/{type}/{id}/{key}", func(r chi.Router) {
				r.Get("/", s.handleGetBindata)
				r.Put("/", s.handleSetBindata)
				r.Delete("/", s.handleDeleteBindata)
			})

			r.Get("/stats", s.handleStats)
			r.Get("/events", s.handleEvents)
		})
	})

	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start(cfg *config.ServerConfig) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}
	s.logger.Info("http server listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, used by handler tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.stats.Snapshot())
}

// sendDomainError maps engine errors onto HTTP statuses.
func sendDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errdef.ErrInvalidArguments):
		sendError(w, r, http.StatusBadRequest, "INVALID_ARGUMENTS", err.Error(), nil)
	case errors.Is(err, errdef.ErrNotFound):
		sendError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, errdef.ErrInUse):
		sendError(w, r, http.StatusConflict, "IN_USE", err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		sendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	default:
		sendError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}
