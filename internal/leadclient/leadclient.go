// Package leadclient talks to the funnel HTTP API on behalf of a wizard.
package leadclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/wizard"
)

type Client struct {
	base string
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ wizard.Submitter = (*Client)(nil)
var _ wizard.BookingOpener = (*Client)(nil)

type apiError struct {
	Error string `json:"error"`
}

// SubmitLead posts the envelope to /api/submit-lead. A non-2xx answer is
// an error; the receipt is still returned when the body carried one.
func (c *Client) SubmitLead(ctx context.Context, p lead.Payload) (lead.Receipt, error) {
	status, raw, err := c.post(ctx, "/api/submit-lead", p)
	if err != nil {
		return lead.Receipt{}, err
	}

	var r lead.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return lead.Receipt{}, fmt.Errorf("decoding receipt: %w", err)
	}
	if r.Message == "" {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error != "" {
			r.Message = ae.Error
		}
	}
	if status/100 != 2 {
		return r, fmt.Errorf("submit-lead: status %d", status)
	}
	return r, nil
}

// OpenBooking asks the server for a prefilled scheduling link.
func (c *Client) OpenBooking(ctx context.Context, ci wizard.ContactInfo) (string, error) {
	status, raw, err := c.post(ctx, "/api/booking-link", lead.Contact{
		FirstName: ci.FirstName,
		LastName:  ci.LastName,
		Email:     ci.Email,
		Phone:     ci.Phone,
	})
	if err != nil {
		return "", err
	}
	if status/100 != 2 {
		return "", fmt.Errorf("booking-link: status %d", status)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding booking link: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("booking-link: empty url")
	}
	return out.URL, nil
}

func (c *Client) post(ctx context.Context, path string, v any) (int, []byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
