package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/lead"
)

type TrackRequest struct {
	EventName  string         `json:"eventName,omitempty"`
	EventID    string         `json:"eventId,omitempty"`
	UserData   capi.UserData  `json:"userData"`
	CustomData map[string]any `json:"customData,omitempty"`
	SourceURL  string         `json:"sourceUrl,omitempty"`
}

type TrackResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
	Skipped bool   `json:"skipped,omitempty"`
}

type TrackErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handleTrack forwards a browser-side interaction to the Conversions API.
// A non-empty fixed name overrides any eventName in the body.
func handleTrack(logger *slog.Logger, events EventSender, fixed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrackRequest
		if err := readJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, TrackErrorResponse{Error: "invalid request body"})
			return
		}
		name := fixed
		if name == "" {
			name = strings.TrimSpace(req.EventName)
		}
		if name == "" {
			writeJSON(w, http.StatusBadRequest, TrackErrorResponse{Error: "eventName is required"})
			return
		}
		sourceURL := req.SourceURL
		if sourceURL == "" {
			sourceURL = r.Referer()
		}

		res, err := events.Send(r.Context(), capi.Event{
			Name:       name,
			ID:         req.EventID,
			UserData:   req.UserData,
			CustomData: capi.CustomDataFromMap(req.CustomData),
			SourceURL:  sourceURL,
			UserAgent:  r.UserAgent(),
			ClientIP:   clientIP(r),
		})
		if err != nil {
			var de *lead.DeliveryError
			if errors.As(err, &de) {
				writeJSON(w, http.StatusBadGateway, TrackErrorResponse{
					Error:   "Failed to send event",
					Details: "the tracking service did not accept the event",
				})
				return
			}
			logger.Error("tracking passthrough failed", "event", name, "error", err)
			writeJSON(w, http.StatusInternalServerError, TrackErrorResponse{Error: "Failed to send event"})
			return
		}
		writeJSON(w, http.StatusOK, TrackResponse{Success: res.Success, EventID: res.EventID, Skipped: res.Skipped})
	}
}
