// Package capi sends server-side conversion events to the ad platform's
// Conversions API. A single Client is built at startup and shared; when no
// credentials are configured it turns every send into a no-op.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/metrics"
)

const (
	EventLead     = "Lead"
	EventPageView = "PageView"
)

// Config holds the platform credentials and endpoint.
type Config struct {
	AccessToken   string
	PixelID       string
	TestEventCode string
	APIVersion    string
	BaseURL       string
	Timeout       time.Duration
}

// CustomData is the event's business payload. Extra keys are sent as-is.
type CustomData struct {
	Value           float64
	Currency        string
	ContentName     string
	ContentCategory string
	Extra           map[string]any
}

func (c CustomData) wire() map[string]any {
	out := make(map[string]any, len(c.Extra)+4)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Value != 0 {
		out["value"] = c.Value
	}
	if c.Currency != "" {
		out["currency"] = c.Currency
	}
	if c.ContentName != "" {
		out["content_name"] = c.ContentName
	}
	if c.ContentCategory != "" {
		out["content_category"] = c.ContentCategory
	}
	return out
}

// CustomDataFromMap splits a free-form object into the known fields and
// extra attributes.
func CustomDataFromMap(m map[string]any) CustomData {
	var c CustomData
	for k, v := range m {
		switch k {
		case "value":
			if f, ok := v.(float64); ok {
				c.Value = f
				continue
			}
		case "currency":
			if s, ok := v.(string); ok {
				c.Currency = s
				continue
			}
		case "contentName", "content_name":
			if s, ok := v.(string); ok {
				c.ContentName = s
				continue
			}
		case "contentCategory", "content_category":
			if s, ok := v.(string); ok {
				c.ContentCategory = s
				continue
			}
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return c
}

// Event is one conversion. ID may be empty, in which case one is generated.
type Event struct {
	Name       string
	ID         string
	UserData   UserData
	CustomData CustomData
	SourceURL  string
	UserAgent  string
	ClientIP   string
	Time       time.Time
}

// Result reports what happened to one event.
type Result struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
	TraceID string `json:"traceId,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

type wireEvent struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	UserData       wireUserData   `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

type wireRequest struct {
	Data          []wireEvent `json:"data"`
	TestEventCode string      `json:"test_event_code,omitempty"`
	AccessToken   string      `json:"access_token"`
}

type wireResponse struct {
	EventsReceived int    `json:"events_received"`
	FBTraceID      string `json:"fbtrace_id"`
	Error          *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// Client posts events to the Conversions API.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMetrics records send outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v18.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
		tracer: otel.Tracer("github.com/trialreach/funnel/internal/capi"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether credentials are present.
func (c *Client) Enabled() bool {
	return c.cfg.AccessToken != "" && c.cfg.PixelID != ""
}

// NewEventID builds an analytics-grade id from the event name, the current
// time and a random suffix. It is not suitable where uniqueness must be
// guaranteed.
func NewEventID(name string, now time.Time) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return fmt.Sprintf("%s_%d_%s", strings.ToLower(name), now.UnixMilli(), suffix)
}

// Send delivers one event. It never retries. Without credentials it
// returns a successful, skipped result.
func (c *Client) Send(ctx context.Context, e Event) (Result, error) {
	if e.Time.IsZero() {
		e.Time = c.now()
	}
	if e.ID == "" {
		e.ID = NewEventID(e.Name, e.Time)
	}
	res := Result{EventID: e.ID}

	if !c.Enabled() {
		c.logger.Debug("conversion tracking disabled, skipping event", "event", e.Name, "event_id", e.ID)
		c.metrics.TrackingEvent(e.Name, "skipped")
		res.Success = true
		res.Skipped = true
		return res, nil
	}

	ctx, span := c.tracer.Start(ctx, "capi.Send", trace.WithAttributes(
		attribute.String("capi.event_name", e.Name),
		attribute.String("capi.event_id", e.ID),
	))
	defer span.End()

	traceID, err := c.post(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		c.metrics.TrackingEvent(e.Name, "error")
		c.logger.Error("conversion event failed", "event", e.Name, "event_id", e.ID, "error", err)
		return res, err
	}

	c.metrics.TrackingEvent(e.Name, "ok")
	c.logger.Info("conversion event sent", "event", e.Name, "event_id", e.ID, "trace_id", traceID)
	res.Success = true
	res.TraceID = traceID
	return res, nil
}

func (c *Client) post(ctx context.Context, e Event) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(wireRequest{
		Data: []wireEvent{{
			EventName:      e.Name,
			EventTime:      e.Time.Unix(),
			EventID:        e.ID,
			EventSourceURL: e.SourceURL,
			ActionSource:   "website",
			UserData:       hashUserData(e.UserData, e.ClientIP, e.UserAgent),
			CustomData:     e.CustomData.wire(),
		}},
		TestEventCode: c.cfg.TestEventCode,
		AccessToken:   c.cfg.AccessToken,
	})
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/events", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.APIVersion, c.cfg.PixelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &lead.DeliveryError{Target: "capi", Cause: err}
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var wr wireResponse
	decodeErr := json.Unmarshal(raw, &wr)
	if resp.StatusCode/100 == 2 && (readErr != nil || decodeErr != nil) {
		// Accepted upstream; only the trace id is lost.
		c.logger.Debug("unreadable conversion api response",
			"event_id", e.ID,
			"status", resp.StatusCode,
			"error", errors.Join(readErr, decodeErr),
		)
	}

	if resp.StatusCode/100 != 2 || wr.Error != nil {
		de := &lead.DeliveryError{Target: "capi", StatusCode: resp.StatusCode, Body: string(raw)}
		if wr.Error != nil {
			de.Body = wr.Error.Message
		}
		return "", de
	}
	return wr.FBTraceID, nil
}
