package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/trialreach/funnel/internal/handler/health"
)

type mockChecker struct{ err error }

func (m mockChecker) Check(_ context.Context) error { return m.err }

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]health.Checker
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name: "all healthy",
			checks: map[string]health.Checker{
				"fallback_store": mockChecker{},
				"crm":            mockChecker{},
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"fallback_store": "ok", "crm": "ok"},
		},
		{
			name: "store not writable",
			checks: map[string]health.Checker{
				"fallback_store": mockChecker{err: errors.New("read-only file system")},
				"crm":            mockChecker{},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"fallback_store": "error", "crm": "ok"},
		},
		{
			name: "crm not configured",
			checks: map[string]health.Checker{
				"fallback_store": mockChecker{},
				"crm": health.CheckerFunc(func(context.Context) error {
					return errors.New("no key")
				}),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"fallback_store": "ok", "crm": "error"},
		},
		{
			name:       "no checks",
			checks:     nil,
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), tt.checks)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body map[string]struct{ Status string }
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if len(body) != len(tt.wantBody) {
				t.Errorf("got %d checks, want %d", len(body), len(tt.wantBody))
			}
			for name, want := range tt.wantBody {
				if got := body[name].Status; got != want {
					t.Errorf("%s status = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestHandlerTimesOutSlowChecks(t *testing.T) {
	slow := health.CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := health.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), map[string]health.Checker{"slow": slow})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
