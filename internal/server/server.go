package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trialreach/funnel/internal/booking"
	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/handler/health"
	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/metrics"
	"github.com/trialreach/funnel/internal/submit"
)

// LeadService runs the two lead submission paths.
type LeadService interface {
	SubmitLead(ctx context.Context, req submit.Request) (submit.Outcome, error)
	SubmitLegacy(ctx context.Context, req submit.Request) (submit.Outcome, error)
}

// EventSender sends conversion events.
type EventSender interface {
	Send(ctx context.Context, e capi.Event) (capi.Result, error)
}

// LinkResolver produces booking links.
type LinkResolver interface {
	Resolve(ctx context.Context, c lead.Contact) (booking.Link, error)
}

// Deps are the collaborators built once at startup.
type Deps struct {
	Leads   LeadService
	Events  EventSender
	Booking LinkResolver
	Metrics *metrics.Metrics
	Checks  map[string]health.Checker

	// SubmitLeadDelivery applies to /api/submit-lead only.
	SubmitLeadDelivery lead.DeliveryMode
	SiteDir            string
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

func New(addr string, logger *slog.Logger, deps Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(logger, deps),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the full handler tree.
func NewRouter(logger *slog.Logger, deps Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger, deps.Metrics))
	r.Use(middleware.Recoverer)

	addRoutes(r, logger, deps)
	return r
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func newStructuredLogger(logger *slog.Logger, m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				elapsed := time.Since(start)
				route := "unmatched"
				if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				m.ObserveRequest(r.Method, route, ww.Status(), elapsed)
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"route", route,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", elapsed.Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
