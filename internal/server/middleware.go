package server

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/trialreach/funnel/internal/submit"
)

// recoverLead turns a panic on a lead endpoint into the success-shaped
// note response. Nothing must have been written yet for the receipt to
// reach the client.
func recoverLead(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic in lead handler",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeReceipt(w, http.StatusOK, submit.Unhandled())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the caller's address. middleware.RealIP has already
// replaced RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
