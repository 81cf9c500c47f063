// Package submit is the server side of a lead submission: enrichment,
// CRM delivery, conversion tracking and the fallback write, plus the
// per-endpoint delivery contract that turns the outcome into a response.
package submit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/crm"
	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/metrics"
	"github.com/trialreach/funnel/internal/screening"
)

const (
	EndpointSubmitLead  = "submit-lead"
	EndpointGoHighLevel = "gohighlevel"
)

const (
	MsgSubmitted  = "Thank you! Your information has been submitted successfully."
	MsgRecorded   = "Thank you! Your information has been recorded and our team will follow up shortly."
	MsgFailed     = "We couldn't submit your information right now. Please try again."
	MsgConfig     = "Server configuration error"
	NoteUnhandled = "Your submission was received, but we hit a backend issue. Our team will follow up."
)

// Locator resolves a client IP. It must not fail.
type Locator interface {
	Locate(ctx context.Context, ip string) lead.Location
}

// ContactCreator is the CRM.
type ContactCreator interface {
	Configured() bool
	CreateContact(ctx context.Context, c crm.Contact) (string, error)
}

// Tracker is the conversion tracking client.
type Tracker interface {
	Send(ctx context.Context, e capi.Event) (capi.Result, error)
}

// FallbackStore keeps payloads the CRM did not accept.
type FallbackStore interface {
	Save(kind string, payload any, cause error) string
}

// Request is a decoded payload plus what the HTTP layer knows about the
// caller.
type Request struct {
	Payload   lead.Payload
	ClientIP  string
	UserAgent string
}

// Outcome records each delivery independently.
type Outcome struct {
	EventID      string
	Location     lead.Location
	ContactID    string
	CRMErr       error
	Tracking     capi.Result
	TrackingErr  error
	FallbackPath string
}

// Delivered reports whether the CRM accepted the lead.
func (o Outcome) Delivered() bool { return o.CRMErr == nil }

type Service struct {
	table    *screening.Table
	geo      Locator
	crm      ContactCreator
	tracker  Tracker
	fallback FallbackStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(table *screening.Table, geo Locator, crm ContactCreator, tracker Tracker, fallback FallbackStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		table:    table,
		geo:      geo,
		crm:      crm,
		tracker:  tracker,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CRMConfigured reports whether the CRM credential is present.
func (s *Service) CRMConfigured() bool { return s.crm.Configured() }

type fallbackDoc struct {
	Endpoint string        `json:"endpoint"`
	Payload  lead.Payload  `json:"payload"`
	Location lead.Location `json:"location"`
	Contact  crm.Contact   `json:"crmContact"`
}

// SubmitLead handles the wizard's submission: geolocation, then the CRM
// and the conversion event in parallel, then the fallback write if the
// CRM did not take the lead. Delivery failures are reported in the
// Outcome; the error return is for validation and configuration problems,
// which stop the request before any outbound call.
func (s *Service) SubmitLead(ctx context.Context, req Request) (Outcome, error) {
	p := req.Payload
	if err := lead.RequireReachable(p.Contact); err != nil {
		s.metrics.Submission(EndpointSubmitLead, "invalid")
		return Outcome{}, err
	}
	if !s.crm.Configured() {
		s.metrics.Submission(EndpointSubmitLead, "not_configured")
		return Outcome{}, lead.ErrNotConfigured
	}
	if p.Meta.EventID == "" {
		p.Meta.EventID = capi.NewEventID(capi.EventLead, s.now())
	}

	out := Outcome{EventID: p.Meta.EventID}
	out.Location = s.geo.Locate(ctx, req.ClientIP)

	contact := crm.Contact{
		FirstName: p.Contact.FirstName,
		LastName:  p.Contact.LastName,
		Email:     p.Contact.Email,
		Phone:     p.Contact.Phone,
		Tags:      p.AllTags(),
		Notes:     LeadNotes(s.table, p, out.Location),
	}
	event := capi.Event{
		Name: capi.EventLead,
		ID:   p.Meta.EventID,
		UserData: capi.UserData{
			Email:     p.Contact.Email,
			Phone:     p.Contact.Phone,
			FirstName: p.Contact.FirstName,
			LastName:  p.Contact.LastName,
			City:      out.Location.City,
			State:     out.Location.State,
			Zip:       out.Location.PostalCode,
			Country:   out.Location.Country,
		},
		CustomData: capi.CustomData{
			ContentName:     "Pre-Screening",
			ContentCategory: string(p.EffectivePath()),
			Extra: map[string]any{
				"user_path":         string(p.EffectivePath()),
				"skipped_prescreen": p.Meta.SkippedPrescreen,
				"answered":          len(p.Answers),
			},
		},
		SourceURL: p.Meta.SourceURL,
		UserAgent: req.UserAgent,
		ClientIP:  req.ClientIP,
		Time:      s.now(),
	}

	// Neither delivery depends on the other, and each failure is kept.
	var g errgroup.Group
	g.Go(func() error {
		out.ContactID, out.CRMErr = s.crm.CreateContact(ctx, contact)
		return nil
	})
	g.Go(func() error {
		out.Tracking, out.TrackingErr = s.tracker.Send(ctx, event)
		return nil
	})
	g.Wait()

	log := s.logger.With("endpoint", EndpointSubmitLead, "event_id", out.EventID)
	if out.CRMErr != nil {
		logDeliveryError(log, out.CRMErr)
		out.FallbackPath = s.fallback.Save(EndpointSubmitLead, fallbackDoc{
			Endpoint: EndpointSubmitLead,
			Payload:  p,
			Location: out.Location,
			Contact:  contact,
		}, out.CRMErr)
		s.metrics.Submission(EndpointSubmitLead, "crm_failed")
	} else {
		log.Info("lead delivered", "contact_id", out.ContactID, "tracking_ok", out.TrackingErr == nil)
		s.metrics.Submission(EndpointSubmitLead, "delivered")
	}
	return out, nil
}

// SubmitLegacy is the CRM-only path. It requires first name, email and
// phone and formats its own notes; it does no geolocation or tracking.
func (s *Service) SubmitLegacy(ctx context.Context, req Request) (Outcome, error) {
	p := req.Payload
	if p.Contact.FirstName == "" || p.Contact.Email == "" || p.Contact.Phone == "" {
		s.metrics.Submission(EndpointGoHighLevel, "invalid")
		return Outcome{}, lead.Invalid("firstName, email and phone are required")
	}
	if !s.crm.Configured() {
		s.metrics.Submission(EndpointGoHighLevel, "not_configured")
		return Outcome{}, lead.ErrNotConfigured
	}

	out := Outcome{EventID: p.Meta.EventID}
	contact := crm.Contact{
		FirstName: p.Contact.FirstName,
		LastName:  p.Contact.LastName,
		Email:     p.Contact.Email,
		Phone:     p.Contact.Phone,
		Tags:      p.AllTags(),
		Notes:     LegacyNotes(p),
	}
	out.ContactID, out.CRMErr = s.crm.CreateContact(ctx, contact)

	log := s.logger.With("endpoint", EndpointGoHighLevel, "event_id", out.EventID)
	if out.CRMErr != nil {
		logDeliveryError(log, out.CRMErr)
		out.FallbackPath = s.fallback.Save(EndpointGoHighLevel, fallbackDoc{
			Endpoint: EndpointGoHighLevel,
			Payload:  p,
			Contact:  contact,
		}, out.CRMErr)
		s.metrics.Submission(EndpointGoHighLevel, "crm_failed")
		return out, nil
	}
	log.Info("lead delivered", "contact_id", out.ContactID)
	s.metrics.Submission(EndpointGoHighLevel, "delivered")
	return out, nil
}

// Respond applies a delivery contract to an outcome.
func Respond(mode lead.DeliveryMode, out Outcome) (int, lead.Receipt) {
	if out.Delivered() {
		return http.StatusOK, lead.Receipt{Success: true, Message: MsgSubmitted}
	}
	if mode == lead.StrictDelivery {
		return http.StatusBadGateway, lead.Receipt{Success: false, Message: MsgFailed}
	}
	return http.StatusOK, lead.Receipt{Success: true, Message: MsgRecorded}
}

// Unhandled is the response for anything unexpected on a lead endpoint.
// Visitors are never shown a backend fault.
func Unhandled() lead.Receipt {
	return lead.Receipt{Success: true, Message: MsgRecorded, Note: NoteUnhandled}
}

// logDeliveryError logs upstream detail that must stay server side.
func logDeliveryError(log *slog.Logger, err error) {
	var de *lead.DeliveryError
	if errors.As(err, &de) {
		body := de.Body
		if len(body) > 512 {
			body = body[:512]
		}
		log.Error("crm delivery failed", "status", de.StatusCode, "upstream_body", body, "error", err)
		return
	}
	log.Error("crm delivery failed", "error", err)
}
