package server

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/handler/health"
	"github.com/trialreach/funnel/internal/lead"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", handleSwaggerUI())
	r.Mount("/healthz", health.NewHandler(logger, deps.Checks).Routes())
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Lead endpoints never show a backend fault to the visitor.
	r.Group(func(r chi.Router) {
		r.Use(recoverLead(logger))
		r.Post("/api/submit-lead", handleSubmitLead(logger, deps.Leads, deps.SubmitLeadDelivery))
		r.Post("/api/gohighlevel", handleGoHighLevel(logger, deps.Leads))
	})

	r.Route("/api/facebook", func(r chi.Router) {
		r.Post("/lead", handleTrack(logger, deps.Events, capi.EventLead))
		r.Post("/pageview", handleTrack(logger, deps.Events, capi.EventPageView))
		r.Post("/track", handleTrack(logger, deps.Events, ""))
	})

	r.Post("/api/booking-link", handleBookingLink(logger, deps.Booking))

	if deps.SiteDir != "" {
		if info, err := os.Stat(deps.SiteDir); err == nil && info.IsDir() {
			logger.Info("serving site", "dir", deps.SiteDir)
			r.NotFound(handleSite(deps.SiteDir))
			return
		}
		logger.Warn("site dir not found, static serving disabled", "dir", deps.SiteDir)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

func submitMode(m lead.DeliveryMode) lead.DeliveryMode {
	if m == "" {
		return lead.BestEffortDelivery
	}
	return m
}
