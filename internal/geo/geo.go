// Package geo resolves a client IP to an approximate location. Lookups are
// best effort: every failure path yields the default location.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/metrics"
)

type Config struct {
	APIKey         string
	BaseURL        string
	DefaultCountry string
	Timeout        time.Duration
}

type lookupResponse struct {
	City        string `json:"city"`
	StateProv   string `json:"state_prov"`
	StateCode   string `json:"state_code"`
	Zipcode     string `json:"zipcode"`
	CountryCode string `json:"country_code2"`
}

var errPrivateIP = errors.New("private or invalid ip")

// Locator looks up IPs against an ipgeolocation-style HTTP API.
type Locator struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker
}

type Option func(*Locator)

func WithHTTPClient(h *http.Client) Option {
	return func(l *Locator) { l.http = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Locator) { l.metrics = m }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Locator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.ipgeolocation.io"
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "US"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	l := &Locator{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
		tracer: otel.Tracer("github.com/trialreach/funnel/internal/geo"),
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "geolocation",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errPrivateIP)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Default is the location used whenever a lookup cannot be made.
func (l *Locator) Default() lead.Location {
	return lead.Location{Country: l.cfg.DefaultCountry}
}

// Locate never fails: errors are logged and the default is returned.
func (l *Locator) Locate(ctx context.Context, ip string) lead.Location {
	if l.cfg.APIKey == "" {
		return l.Default()
	}

	ctx, span := l.tracer.Start(ctx, "geo.Locate")
	defer span.End()

	v, err := l.breaker.Execute(func() (any, error) {
		return l.lookup(ctx, ip)
	})
	if err != nil {
		if !errors.Is(err, errPrivateIP) {
			span.RecordError(err)
			l.logger.Warn("geolocation lookup failed", "error", err)
			l.metrics.Delivery("geo", "error")
		}
		span.SetAttributes(attribute.Bool("geo.defaulted", true))
		return l.Default()
	}
	l.metrics.Delivery("geo", "ok")
	loc := v.(lead.Location)
	if loc.Country == "" {
		loc.Country = l.cfg.DefaultCountry
	}
	return loc
}

func (l *Locator) lookup(ctx context.Context, ip string) (lead.Location, error) {
	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return lead.Location{}, errPrivateIP
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("apiKey", l.cfg.APIKey)
	q.Set("ip", addr.String())
	q.Set("fields", "city,state_prov,state_code,zipcode,country_code2")
	u := strings.TrimRight(l.cfg.BaseURL, "/") + "/ipgeo?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return lead.Location{}, fmt.Errorf("building request: %w", err)
	}
	resp, err := l.http.Do(req)
	if err != nil {
		// The request URL carries the api key and the visitor's ip.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return lead.Location{}, fmt.Errorf("geolocation request to %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return lead.Location{}, fmt.Errorf("geolocation status %d", resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&lr); err != nil {
		return lead.Location{}, fmt.Errorf("decoding geolocation: %w", err)
	}
	state := lr.StateCode
	if state == "" {
		state = lr.StateProv
	} else if i := strings.IndexByte(state, '-'); i >= 0 {
		state = state[i+1:]
	}
	return lead.Location{
		City:       lr.City,
		State:      state,
		PostalCode: lr.Zipcode,
		Country:    lr.CountryCode,
	}, nil
}
