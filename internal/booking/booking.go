// Package booking resolves the scheduling link shown on the instant-booking
// branch. Configured scheduler endpoints are tried in order, each under its
// own timeout; when all of them fail the prefilled widget URL is used.
package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/metrics"
)

// WidgetStrategy names the final deterministic attempt.
const WidgetStrategy = "widget"

// ErrNoLink is returned when no strategy produced a URL and no widget URL
// is configured.
var ErrNoLink = errors.New("no booking link available")

// Strategy is one way of obtaining a booking URL.
type Strategy interface {
	Name() string
	Link(ctx context.Context, c lead.Contact) (string, error)
}

// Link is a resolved booking URL and the strategy that produced it.
type Link struct {
	URL      string `json:"url"`
	Strategy string `json:"strategy"`
}

type Config struct {
	WidgetURL      string
	Endpoints      []string
	AttemptTimeout time.Duration
}

// Service runs strategies in order.
type Service struct {
	strategies []Strategy
	widgetURL  string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStrategies replaces the strategies built from configured endpoints.
func WithStrategies(st ...Strategy) Option {
	return func(s *Service) { s.strategies = st }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 3 * time.Second
	}
	s := &Service{
		widgetURL: cfg.WidgetURL,
		timeout:   cfg.AttemptTimeout,
		logger:    logger,
		tracer:    otel.Tracer("github.com/trialreach/funnel/internal/booking"),
	}
	hc := &http.Client{}
	for i, ep := range cfg.Endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		s.strategies = append(s.strategies, &Endpoint{
			Label: fmt.Sprintf("endpoint-%d", i+1),
			URL:   ep,
			HTTP:  hc,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the first link any strategy yields.
func (s *Service) Resolve(ctx context.Context, c lead.Contact) (Link, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Resolve")
	defer span.End()

	c = c.Normalize()
	for _, st := range s.strategies {
		u, err := s.attempt(ctx, st, c)
		if err != nil {
			s.logger.Warn("booking strategy failed", "strategy", st.Name(), "error", err)
			s.metrics.Delivery("booking_"+st.Name(), "error")
			continue
		}
		s.metrics.Delivery("booking_"+st.Name(), "ok")
		span.SetAttributes(attribute.String("booking.strategy", st.Name()))
		return Link{URL: u, Strategy: st.Name()}, nil
	}

	if s.widgetURL == "" {
		span.SetStatus(codes.Error, "no booking link")
		return Link{}, ErrNoLink
	}
	u, err := WidgetURL(s.widgetURL, c)
	if err != nil {
		span.RecordError(err)
		return Link{}, err
	}
	span.SetAttributes(attribute.String("booking.strategy", WidgetStrategy))
	return Link{URL: u, Strategy: WidgetStrategy}, nil
}

func (s *Service) attempt(ctx context.Context, st Strategy, c lead.Contact) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "booking.attempt", trace.WithAttributes(
		attribute.String("booking.strategy", st.Name()),
	))
	defer span.End()

	u, err := st.Link(ctx, c)
	if err == nil {
		err = checkURL(u)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
		return "", err
	}
	return u, nil
}

// WidgetURL prefills the booking widget with the contact's details.
func WidgetURL(base string, c lead.Contact) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing widget url: %w", err)
	}
	q := u.Query()
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("first_name", c.FirstName)
	set("last_name", c.LastName)
	set("email", c.Email)
	set("phone", c.Phone)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("invalid booking url %q", s)
	}
	return nil
}

// Endpoint asks a scheduler service for a prefilled link. The service
// answers {"url": "..."}; "bookingUrl" and "link" are accepted too.
type Endpoint struct {
	Label string
	URL   string
	HTTP  *http.Client
}

func (e *Endpoint) Name() string { return e.Label }

func (e *Endpoint) Link(ctx context.Context, c lead.Contact) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		URL        string `json:"url"`
		BookingURL string `json:"bookingUrl"`
		Link       string `json:"link"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	for _, u := range []string{out.URL, out.BookingURL, out.Link} {
		if u != "" {
			return u, nil
		}
	}
	return "", errors.New("response carried no url")
}
