package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/trialreach/funnel/internal/booking"
	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/crm"
	"github.com/trialreach/funnel/internal/fallback"
	"github.com/trialreach/funnel/internal/geo"
	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/metrics"
	"github.com/trialreach/funnel/internal/screening"
	"github.com/trialreach/funnel/internal/submit"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeCRM records create-contact calls and answers with a fixed status.
type fakeCRM struct {
	status int
	body   string

	mu       sync.Mutex
	contacts []crm.Contact
}

func (f *fakeCRM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var c crm.Contact
	json.NewDecoder(r.Body).Decode(&c)
	f.mu.Lock()
	f.contacts = append(f.contacts, c)
	f.mu.Unlock()
	w.WriteHeader(f.status)
	io.WriteString(w, f.body)
}

func (f *fakeCRM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contacts)
}

type testEnv struct {
	router   chi.Router
	crm      *fakeCRM
	leadsDir string
	metrics  *metrics.Metrics
}

type envOption func(*envConfig)

type envConfig struct {
	crmKey  string
	mode    lead.DeliveryMode
	crmCode int
	leads   LeadService
	geoURL  string
}

func withoutCRMKey() envOption { return func(c *envConfig) { c.crmKey = "" } }
func withMode(m lead.DeliveryMode) envOption { return func(c *envConfig) { c.mode = m } }
func withCRMStatus(code int) envOption { return func(c *envConfig) { c.crmCode = code } }
func withLeads(l LeadService) envOption { return func(c *envConfig) { c.leads = l } }
func withGeo(url string) envOption { return func(c *envConfig) { c.geoURL = url } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{crmKey: "crm-secret-key", mode: lead.BestEffortDelivery, crmCode: http.StatusOK}
	for _, opt := range opts {
		opt(&cfg)
	}

	fc := &fakeCRM{status: cfg.crmCode, body: `{"contact":{"id":"ct-9"}}`}
	if cfg.crmCode/100 != 2 {
		fc.body = `{"message":"upstream says api key crm-secret-key is invalid"}`
	}
	crmSrv := httptest.NewServer(fc)
	t.Cleanup(crmSrv.Close)

	logger := discard()
	m := metrics.New()
	leadsDir := t.TempDir()

	events := capi.New(capi.Config{}, logger, capi.WithMetrics(m))
	leads := cfg.leads
	if leads == nil {
		leads = submit.New(
			screening.Default,
			geo.New(geo.Config{APIKey: geoKey(cfg.geoURL), BaseURL: cfg.geoURL}, logger),
			crm.New(crm.Config{APIKey: cfg.crmKey, BaseURL: crmSrv.URL}, logger, crm.WithMetrics(m)),
			events,
			fallback.NewWriter(leadsDir, logger, fallback.WithTempDir(t.TempDir())),
			logger,
			submit.WithMetrics(m),
		)
	}

	r := NewRouter(logger, Deps{
		Leads:              leads,
		Events:             events,
		Booking:            booking.New(booking.Config{WidgetURL: "https://book.example.com/w"}, logger),
		Metrics:            m,
		SubmitLeadDelivery: cfg.mode,
	})
	return &testEnv{router: r, crm: fc, leadsDir: leadsDir, metrics: m}
}

func geoKey(url string) string {
	if url == "" {
		return ""
	}
	return "geo-key"
}

func (e *testEnv) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeReceipt(t *testing.T, rec *httptest.ResponseRecorder) lead.Receipt {
	t.Helper()
	var r lead.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&r); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	return r
}

func savedFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading leads dir: %v", err)
	}
	return len(entries)
}

const envelope = `{
	"contact": {"firstName": "Jane", "lastName": "Doe", "email": "jane@example.com", "phone": "5125550100"},
	"answers": {"q1": "Yes", "q2": "Yes"},
	"meta": {"eventId": "evt-123", "userPath": "contact"}
}`

func TestSubmitLeadSuccess(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/api/submit-lead", envelope)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if r := decodeReceipt(t, rec); !r.Success || r.Message != submit.MsgSubmitted {
		t.Errorf("receipt = %+v", r)
	}
	if env.crm.calls() != 1 {
		t.Fatalf("crm calls = %d", env.crm.calls())
	}
	c := env.crm.contacts[0]
	if !strings.Contains(c.Notes, "evt-123") {
		t.Errorf("notes missing event id: %q", c.Notes)
	}
	if !strings.Contains(strings.Join(c.Tags, ","), lead.TagTalkFirst) {
		t.Errorf("tags = %v", c.Tags)
	}
}

func TestSubmitLeadFlatBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/api/submit-lead", `{"name":"Jane Doe","phone":"5125550100","q1":"Yes","skippedPrescreen":false,"utm_source":"fb-spring"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	c := env.crm.contacts[0]
	if c.FirstName != "Jane" || c.LastName != "Doe" {
		t.Errorf("contact = %+v", c)
	}
	if !strings.Contains(strings.Join(c.Tags, ","), lead.TagQualified) {
		t.Errorf("unset path should be tagged qualified, got %v", c.Tags)
	}
	if strings.Contains(c.Notes, "fb-spring") {
		t.Errorf("tracking field recorded as an answer: %q", c.Notes)
	}
}

func TestSubmitLeadGeolocationFailureIsNonFatal(t *testing.T) {
	var geoHits atomic.Int32
	geoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geoHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer geoSrv.Close()

	env := newTestEnv(t, withGeo(geoSrv.URL))
	rec := env.post(t, "/api/submit-lead", envelope)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if r := decodeReceipt(t, rec); !r.Success || r.Message != submit.MsgSubmitted {
		t.Errorf("receipt = %+v", r)
	}
	if geoHits.Load() != 1 {
		t.Errorf("geolocation hits = %d, want 1", geoHits.Load())
	}
	if env.crm.calls() != 1 {
		t.Errorf("crm calls = %d, want 1", env.crm.calls())
	}
}

func TestSubmitLeadRejections(t *testing.T) {
	tests := []struct {
		name       string
		opts       []envOption
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "malformed json",
			body:       `{"contact":`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid request body",
		},
		{
			name:       "no email or phone",
			body:       `{"contact":{"firstName":"Jane"},"meta":{"eventId":"e"}}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "email or phone is required",
		},
		{
			name:       "crm not configured",
			opts:       []envOption{withoutCRMKey()},
			body:       envelope,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    submit.MsgConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts...)
			rec := env.post(t, "/api/submit-lead", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if r := decodeReceipt(t, rec); r.Success || r.Message != tt.wantMsg {
				t.Errorf("receipt = %+v", r)
			}
			if env.crm.calls() != 0 {
				t.Errorf("crm calls = %d, want 0", env.crm.calls())
			}
		})
	}
}

func TestSubmitLeadCRMFailureContracts(t *testing.T) {
	tests := []struct {
		name       string
		mode       lead.DeliveryMode
		wantStatus int
		want       lead.Receipt
	}{
		{"best effort", lead.BestEffortDelivery, http.StatusOK, lead.Receipt{Success: true, Message: submit.MsgRecorded}},
		{"strict", lead.StrictDelivery, http.StatusBadGateway, lead.Receipt{Success: false, Message: submit.MsgFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withMode(tt.mode), withCRMStatus(http.StatusUnauthorized))
			rec := env.post(t, "/api/submit-lead", envelope)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := rec.Body.String()
			if strings.Contains(body, "crm-secret-key") || strings.Contains(body, "upstream") {
				t.Errorf("response leaks upstream detail: %s", body)
			}
			var got lead.Receipt
			json.Unmarshal([]byte(body), &got)
			if got != tt.want {
				t.Errorf("receipt = %+v, want %+v", got, tt.want)
			}
			if n := savedFiles(t, env.leadsDir); n != 1 {
				t.Errorf("fallback files = %d, want 1", n)
			}
		})
	}
}

func TestGoHighLevelIsStrict(t *testing.T) {
	env := newTestEnv(t, withCRMStatus(http.StatusInternalServerError))
	rec := env.post(t, "/api/gohighlevel", `{"firstName":"Jane","email":"jane@example.com","phone":"555","q1":"Yes"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if n := savedFiles(t, env.leadsDir); n != 1 {
		t.Errorf("fallback files = %d, want 1", n)
	}

	rec = env.post(t, "/api/gohighlevel", `{"firstName":"Jane","email":"jane@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing phone status = %d, want 400", rec.Code)
	}
}

func TestGoHighLevelSuccess(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/api/gohighlevel", `{"firstName":"Jane","email":"jane@example.com","phone":"555","q3":"No"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if notes := env.crm.contacts[0].Notes; !strings.Contains(notes, "Submitted via legacy form") {
		t.Errorf("notes = %q", notes)
	}
}

type brokenLeads struct {
	panicking bool
}

func (b brokenLeads) SubmitLead(context.Context, submit.Request) (submit.Outcome, error) {
	if b.panicking {
		panic("nil map write")
	}
	return submit.Outcome{}, errors.New("disk on fire")
}

func (b brokenLeads) SubmitLegacy(ctx context.Context, req submit.Request) (submit.Outcome, error) {
	return b.SubmitLead(ctx, req)
}

func TestLeadEndpointsHideUnexpectedFailures(t *testing.T) {
	for _, panicking := range []bool{false, true} {
		for _, path := range []string{"/api/submit-lead", "/api/gohighlevel"} {
			env := newTestEnv(t, withLeads(brokenLeads{panicking: panicking}))
			rec := env.post(t, path, envelope)
			if rec.Code != http.StatusOK {
				t.Errorf("%s panic=%v: status = %d, want 200", path, panicking, rec.Code)
			}
			r := decodeReceipt(t, rec)
			if !r.Success || r.Note != submit.NoteUnhandled {
				t.Errorf("%s panic=%v: receipt = %+v", path, panicking, r)
			}
		}
	}
}
