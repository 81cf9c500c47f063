package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
	"github.com/swaggest/swgui/v5emb"

	"github.com/trialreach/funnel/internal/booking"
	"github.com/trialreach/funnel/internal/lead"
)

// ErrorResponse is returned for error responses outside the lead endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthStatus struct {
	Status string `json:"status" enum:"ok,error"`
}

// HealthResponse maps each checked dependency to its status.
type HealthResponse map[string]HealthStatus

// LegacyLeadRequest documents the flat submission shape. Question answers
// are extra top-level string fields keyed by question id.
type LegacyLeadRequest struct {
	EventID          string   `json:"eventId,omitempty"`
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName,omitempty"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone"`
	PreferredTime    string   `json:"preferredTime,omitempty"`
	UserPath         string   `json:"userPath,omitempty" enum:"instant,contact,qualified"`
	SkippedPrescreen bool     `json:"skippedPrescreen,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Funnel API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Lead capture and conversion tracking for the pre-screening funnel.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Reports whether the fallback store is writable and the CRM is configured.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/submit-lead
	postLead, _ := r.NewOperationContext(http.MethodPost, "/api/submit-lead")
	postLead.SetSummary("Submit lead")
	postLead.SetDescription("Accepts the wizard envelope {contact, answers, meta} or the flat form. " +
		"Creates the CRM contact and sends the Lead conversion event under one event id. " +
		"CRM failures are reported according to SUBMIT_LEAD_DELIVERY.")
	postLead.AddReqStructure(lead.Payload{})
	postLead.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusOK))
	postLead.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postLead.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusInternalServerError))
	postLead.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusBadGateway))
	_ = r.AddOperation(postLead)

	// POST /api/gohighlevel
	postGHL, _ := r.NewOperationContext(http.MethodPost, "/api/gohighlevel")
	postGHL.SetSummary("Submit lead (legacy form)")
	postGHL.SetDescription("CRM-only submission. firstName, email and phone are required. CRM failures return 502.")
	postGHL.AddReqStructure(LegacyLeadRequest{})
	postGHL.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusOK))
	postGHL.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postGHL.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusInternalServerError))
	postGHL.AddRespStructure(lead.Receipt{}, openapi.WithHTTPStatus(http.StatusBadGateway))
	_ = r.AddOperation(postGHL)

	for _, p := range []struct{ path, summary string }{
		{"/api/facebook/lead", "Track lead"},
		{"/api/facebook/pageview", "Track page view"},
		{"/api/facebook/track", "Track custom event"},
	} {
		op, _ := r.NewOperationContext(http.MethodPost, p.path)
		op.SetSummary(p.summary)
		op.SetDescription("Sends one server-side conversion event. User data is hashed before it leaves the server.")
		op.AddReqStructure(TrackRequest{})
		op.AddRespStructure(TrackResponse{}, openapi.WithHTTPStatus(http.StatusOK))
		op.AddRespStructure(TrackErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
		op.AddRespStructure(TrackErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadGateway))
		_ = r.AddOperation(op)
	}

	// POST /api/booking-link
	postBooking, _ := r.NewOperationContext(http.MethodPost, "/api/booking-link")
	postBooking.SetSummary("Booking link")
	postBooking.SetDescription("Returns a scheduling link prefilled with the contact's details.")
	postBooking.AddReqStructure(lead.Contact{})
	postBooking.AddRespStructure(booking.Link{}, openapi.WithHTTPStatus(http.StatusOK))
	postBooking.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postBooking.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(postBooking)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func handleSwaggerUI() http.Handler {
	return v5emb.New("Funnel API", "/openapi.json", "/docs")
}
