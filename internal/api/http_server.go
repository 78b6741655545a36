package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"staybook/internal/auth"
	"staybook/internal/config"
	"staybook/internal/domain"
	"staybook/internal/models"
	"staybook/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type AvailabilityAPI interface {
	ResolveRange(ctx context.Context, propertyID int64, start, end time.Time) (*models.RangeResult, error)
	SetOverride(ctx context.Context, actor domain.Actor, propertyID int64, date time.Time, available bool, price *int64, blockedBy string) error
	SetOverrideRange(ctx context.Context, actor domain.Actor, propertyID int64, req service.OverrideRequest) error
	DeleteOverrides(ctx context.Context, actor domain.Actor, propertyID int64, start, end time.Time) (int64, error)
	ListOverrides(ctx context.Context, actor domain.Actor, propertyID int64, start, end time.Time) ([]*models.AvailabilityOverride, error)
	RebuildDerivedOverrides(ctx context.Context, actor domain.Actor, propertyID int64) (int64, error)
}

type BookingAPI interface {
	domain.BookingService
	ListGuestBookings(ctx context.Context, actor domain.Actor) ([]*models.Booking, error)
}

type PropertyAPI interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	ListProperties(ctx context.Context, activeOnly bool) ([]*models.Property, error)
	CreateProperty(ctx context.Context, actor domain.Actor, p *models.Property) error
	UpdateProperty(ctx context.Context, actor domain.Actor, p *models.Property) error
}

// SyncAdmin controls the spreadsheet mirror.
type SyncAdmin interface {
	RequeueFailed(ctx context.Context) (int64, error)
	EnqueueOccupancySync(ctx context.Context, start, end time.Time) error
	EnqueueFullResync(ctx context.Context) error
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Availability AvailabilityAPI
	Bookings     BookingAPI
	Properties   PropertyAPI
	Sync         SyncAdmin
	Verifier     *auth.Verifier
	Readiness    []ReadinessCheck
	ExportDir    string
}

// HTTPServer is the JSON API used by the web and mobile clients.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Dependencies
	server *http.Server
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "http").Logger()
	}
	s := &HTTPServer{cfg: cfg, deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	gateway := newGatewayAuth(cfg)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(gateway.Wrap)
		r.Use(actorMiddleware(deps.Verifier))

		r.Route("/properties", func(r chi.Router) {
			r.Get("/", s.handleListProperties)
			r.Post("/", s.handleCreateProperty)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetProperty)
				r.Put("/", s.handleUpdateProperty)
				r.Get("/availability", s.handleAvailability)
				r.Get("/overrides", s.handleListOverrides)
				r.Put("/overrides", s.handleSetOverride)
				r.Post("/overrides/bulk", s.handleBulkOverrides)
				r.Delete("/overrides", s.handleDeleteOverrides)
				r.Post("/overrides/rebuild", s.handleRebuildOverrides)
				r.Get("/bookings", s.handlePropertyBookings)
				r.Get("/export", s.handleExport)
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", s.handleCreateBooking)
			r.Get("/", s.handleMyBookings)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBooking)
				r.Delete("/", s.handleDeleteBooking)
				r.Get("/history", s.handleBookingHistory)
				r.Post("/transition", s.handleTransition)
				r.Post("/payment-status", s.handlePaymentStatus)
				r.Post("/payments", s.handleRecordPayment)
			})
		})

		r.Route("/admin/sync", func(r chi.Router) {
			r.Post("/requeue", s.handleRequeueSync)
			r.Post("/occupancy", s.handleOccupancySync)
			r.Post("/resync", s.handleFullResync)
		})
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Readiness))
	code := http.StatusOK
	for _, c := range s.deps.Readiness {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	writeJSON(w, code, map[string]any{"ready": code == http.StatusOK, "checks": checks})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code, body := errorBody(err)
	writeJSON(w, code, body)
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v: %w", err, domain.ErrInvalidInput)
	}
	return nil
}
