package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/submit"
)

// handleSubmitLead serves the wizard submission under the configured
// delivery contract.
func handleSubmitLead(logger *slog.Logger, svc LeadService, mode lead.DeliveryMode) http.HandlerFunc {
	mode = submitMode(mode)
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeLead(w, r, logger)
		if !ok {
			return
		}
		out, err := svc.SubmitLead(r.Context(), req)
		if err != nil {
			writeLeadError(w, r, logger, err)
			return
		}
		status, receipt := submit.Respond(mode, out)
		writeReceipt(w, status, receipt)
	}
}

// handleGoHighLevel serves the legacy CRM-only form. Its contract is
// always strict.
func handleGoHighLevel(logger *slog.Logger, svc LeadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeLead(w, r, logger)
		if !ok {
			return
		}
		out, err := svc.SubmitLegacy(r.Context(), req)
		if err != nil {
			writeLeadError(w, r, logger, err)
			return
		}
		status, receipt := submit.Respond(lead.StrictDelivery, out)
		writeReceipt(w, status, receipt)
	}
}

func decodeLead(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (submit.Request, bool) {
	raw, err := readBody(w, r)
	if err != nil {
		writeReceipt(w, http.StatusBadRequest, lead.Receipt{Message: "invalid request body"})
		return submit.Request{}, false
	}
	p, err := lead.DecodePayload(raw)
	if err != nil {
		writeLeadError(w, r, logger, err)
		return submit.Request{}, false
	}
	if p.Meta.SourceURL == "" {
		p.Meta.SourceURL = r.Referer()
	}
	return submit.Request{Payload: p, ClientIP: clientIP(r), UserAgent: r.UserAgent()}, true
}

func writeLeadError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	log := logger.With("path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))

	var verr *lead.ValidationError
	switch {
	case errors.As(err, &verr):
		log.Info("lead rejected", "error", err)
		writeReceipt(w, http.StatusBadRequest, lead.Receipt{Message: verr.Message})
	case errors.Is(err, lead.ErrNotConfigured):
		log.Error("crm credentials are not configured")
		writeReceipt(w, http.StatusInternalServerError, lead.Receipt{Message: submit.MsgConfig})
	default:
		log.Error("unexpected lead error", "error", err)
		writeReceipt(w, http.StatusOK, submit.Unhandled())
	}
}
