package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/trialreach/funnel/internal/booking"
	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/config"
	"github.com/trialreach/funnel/internal/crm"
	"github.com/trialreach/funnel/internal/fallback"
	"github.com/trialreach/funnel/internal/geo"
	"github.com/trialreach/funnel/internal/handler/health"
	"github.com/trialreach/funnel/internal/metrics"
	"github.com/trialreach/funnel/internal/screening"
	"github.com/trialreach/funnel/internal/server"
	"github.com/trialreach/funnel/internal/submit"
	"github.com/trialreach/funnel/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTel.Endpoint, cfg.OTel.ServiceName)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	m := metrics.New()

	// --- Collaborators ---
	crmClient := crm.New(crm.Config{
		APIKey:  cfg.CRM.APIKey,
		BaseURL: cfg.CRM.BaseURL,
		Source:  cfg.CRM.LeadSource,
		Timeout: cfg.CRM.Timeout,
	}, logger, crm.WithMetrics(m))
	if !crmClient.Configured() {
		logger.Warn("CRM_API_KEY not set, lead endpoints will answer 500")
	}

	events := capi.New(capi.Config{
		AccessToken:   cfg.Meta.AccessToken,
		PixelID:       cfg.Meta.PixelID,
		TestEventCode: cfg.Meta.TestEventCode,
		APIVersion:    cfg.Meta.APIVersion,
		BaseURL:       cfg.Meta.BaseURL,
		Timeout:       cfg.Meta.Timeout,
	}, logger, capi.WithMetrics(m))
	if !events.Enabled() {
		logger.Info("conversion tracking disabled")
	}

	locator := geo.New(geo.Config{
		APIKey:         cfg.IPGeo.APIKey,
		BaseURL:        cfg.IPGeo.BaseURL,
		DefaultCountry: cfg.IPGeo.DefaultCountry,
		Timeout:        cfg.IPGeo.Timeout,
	}, logger, geo.WithMetrics(m))

	store := fallback.NewWriter(cfg.LeadsDir, logger, fallback.WithMetrics(m))

	leads := submit.New(screening.Default, locator, crmClient, events, store, logger, submit.WithMetrics(m))

	links := booking.New(booking.Config{
		WidgetURL:      cfg.Booking.WidgetURL,
		Endpoints:      cfg.Booking.Endpoints,
		AttemptTimeout: cfg.Booking.AttemptTimeout,
	}, logger, booking.WithMetrics(m))

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Leads:   leads,
		Events:  events,
		Booking: links,
		Metrics: m,
		Checks: map[string]health.Checker{
			"fallback_store": storeChecker{store},
			"crm":            crmChecker{crmClient},
		},
		SubmitLeadDelivery: cfg.SubmitLeadDelivery,
		SiteDir:            cfg.SiteDir,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server",
			"addr", cfg.HTTPAddr,
			"submit_lead_delivery", cfg.SubmitLeadDelivery,
			"leads_dir", cfg.LeadsDir,
		)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

// storeChecker adapts *fallback.Writer to health.Checker.
type storeChecker struct{ w *fallback.Writer }

func (s storeChecker) Check(_ context.Context) error { return s.w.Writable() }

// crmChecker reports a missing credential. It does not call the CRM.
type crmChecker struct{ c *crm.Client }

func (c crmChecker) Check(_ context.Context) error {
	if !c.c.Configured() {
		return errors.New("crm api key not configured")
	}
	return nil
}
