// Package crm creates contacts in the external CRM over its REST API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
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

type Config struct {
	APIKey  string
	BaseURL string
	Source  string
	Timeout time.Duration
}

// Contact is the CRM create-contact body.
type Contact struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Tags      []string `json:"tags"`
	Source    string   `json:"source"`
	Notes     string   `json:"notes,omitempty"`
}

type createResponse struct {
	Contact struct {
		ID string `json:"id"`
	} `json:"contact"`
	ID string `json:"id"`
}

type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://rest.gohighlevel.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
		tracer: otel.Tracer("github.com/trialreach/funnel/internal/crm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// Source is the lead source label sent with every contact.
func (c *Client) Source() string { return c.cfg.Source }

// CreateContact posts one contact and returns the CRM's id for it. A
// non-2xx answer is a *lead.DeliveryError carrying the raw body for logs.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (string, error) {
	if !c.Configured() {
		return "", lead.ErrNotConfigured
	}
	if contact.Source == "" {
		contact.Source = c.cfg.Source
	}

	ctx, span := c.tracer.Start(ctx, "crm.CreateContact", trace.WithAttributes(
		attribute.Int("crm.tags", len(contact.Tags)),
	))
	defer span.End()

	id, err := c.create(ctx, contact)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create contact failed")
		c.metrics.Delivery("crm", "error")
		return "", err
	}
	span.SetAttributes(attribute.String("crm.contact_id", id))
	c.metrics.Delivery("crm", "ok")
	return id, nil
}

func (c *Client) create(ctx context.Context, contact Contact) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(contact)
	if err != nil {
		return "", fmt.Errorf("encoding contact: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/contacts/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &lead.DeliveryError{Target: "crm", Cause: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return "", &lead.DeliveryError{Target: "crm", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var cr createResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		c.logger.Warn("crm returned unparseable body", "status", resp.StatusCode, "error", err)
		return "", nil
	}
	if cr.Contact.ID != "" {
		return cr.Contact.ID, nil
	}
	return cr.ID, nil
}
