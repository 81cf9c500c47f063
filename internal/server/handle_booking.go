package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/trialreach/funnel/internal/booking"
	"github.com/trialreach/funnel/internal/lead"
)

func handleBookingLink(logger *slog.Logger, links LinkResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c lead.Contact
		if err := readJSON(w, r, &c); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		link, err := links.Resolve(r.Context(), c)
		if errors.Is(err, booking.ErrNoLink) {
			writeError(w, http.StatusServiceUnavailable, "online booking is unavailable")
			return
		}
		if err != nil {
			logger.Error("resolving booking link", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, link)
	}
}
