package submit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/trialreach/funnel/internal/capi"
	"github.com/trialreach/funnel/internal/crm"
	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/screening"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeGeo struct {
	calls int
	loc   lead.Location
}

func (f *fakeGeo) Locate(context.Context, string) lead.Location {
	f.calls++
	return f.loc
}

type fakeCRM struct {
	configured bool
	err        error

	mu       sync.Mutex
	contacts []crm.Contact
}

func (f *fakeCRM) Configured() bool { return f.configured }

func (f *fakeCRM) CreateContact(_ context.Context, c crm.Contact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	if f.err != nil {
		return "", f.err
	}
	return "ct-1", nil
}

type fakeTracker struct {
	err error

	mu     sync.Mutex
	events []capi.Event
}

func (f *fakeTracker) Send(_ context.Context, e capi.Event) (capi.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	if f.err != nil {
		return capi.Result{EventID: e.ID}, f.err
	}
	return capi.Result{Success: true, EventID: e.ID}, nil
}

type fakeFallback struct {
	kinds  []string
	causes []error
}

func (f *fakeFallback) Save(kind string, _ any, cause error) string {
	f.kinds = append(f.kinds, kind)
	f.causes = append(f.causes, cause)
	return "/tmp/" + kind + ".json"
}

type fixture struct {
	geo      *fakeGeo
	crm      *fakeCRM
	tracker  *fakeTracker
	fallback *fakeFallback
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		geo:      &fakeGeo{loc: lead.Location{City: "Austin", State: "TX", Country: "US"}},
		crm:      &fakeCRM{configured: true},
		tracker:  &fakeTracker{},
		fallback: &fakeFallback{},
	}
	now := func() time.Time { return time.Unix(1700000000, 0) }
	f.svc = New(screening.Default, f.geo, f.crm, f.tracker, f.fallback, discard(), WithClock(now))
	return f
}

func qualifiedPayload() lead.Payload {
	return lead.Payload{
		Contact: lead.Contact{FirstName: "Jane", LastName: "Doe", Email: "jane@example.com", Phone: "5125550100"},
		Answers: map[string]string{"q1": "Yes", "q2": "Yes", "q3": "No"},
		Meta:    lead.Meta{EventID: "evt-42"},
	}
}

func TestSubmitLeadDelivers(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.SubmitLead(context.Background(), Request{Payload: qualifiedPayload(), ClientIP: "8.8.8.8", UserAgent: "ua"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.Delivered() || out.ContactID != "ct-1" || out.TrackingErr != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if len(f.fallback.kinds) != 0 {
		t.Error("fallback written on success")
	}

	c := f.crm.contacts[0]
	if diff := cmp.Diff([]string{lead.TagWebsiteLead, lead.TagQualified}, c.Tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
	if !strings.Contains(c.Notes, "Event ID: evt-42") || !strings.Contains(c.Notes, "Location: Austin, TX, US") {
		t.Errorf("notes = %q", c.Notes)
	}

	e := f.tracker.events[0]
	if e.ID != "evt-42" || e.Name != capi.EventLead || e.ClientIP != "8.8.8.8" || e.UserData.City != "Austin" {
		t.Errorf("event = %+v", e)
	}
}

func TestSubmitLeadGeneratesEventID(t *testing.T) {
	f := newFixture(t)
	p := qualifiedPayload()
	p.Meta.EventID = ""
	out, err := f.svc.SubmitLead(context.Background(), Request{Payload: p})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.EventID, "lead_1700000000000_") {
		t.Errorf("event id = %s", out.EventID)
	}
	if f.tracker.events[0].ID != out.EventID || !strings.Contains(f.crm.contacts[0].Notes, out.EventID) {
		t.Error("crm notes and tracking event must share the event id")
	}
}

func TestSubmitLeadCRMFailure(t *testing.T) {
	f := newFixture(t)
	f.crm.err = &lead.DeliveryError{Target: "crm", StatusCode: 500, Body: `{"msg":"secret upstream detail"}`}

	out, err := f.svc.SubmitLead(context.Background(), Request{Payload: qualifiedPayload()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Delivered() {
		t.Fatal("expected CRM failure")
	}
	if len(f.tracker.events) != 1 {
		t.Error("tracking must still be attempted when the CRM fails")
	}
	if diff := cmp.Diff([]string{EndpointSubmitLead}, f.fallback.kinds); diff != "" {
		t.Errorf("fallback kinds (-want +got):\n%s", diff)
	}
	if !errors.Is(f.fallback.causes[0], out.CRMErr) {
		t.Error("fallback record should carry the CRM error")
	}
}

func TestSubmitLeadTrackingFailureIsIndependent(t *testing.T) {
	f := newFixture(t)
	f.tracker.err = errors.New("capi down")

	out, err := f.svc.SubmitLead(context.Background(), Request{Payload: qualifiedPayload()})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Delivered() || out.TrackingErr == nil {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.fallback.kinds) != 0 {
		t.Error("tracking failure alone must not write a fallback file")
	}
}

func TestSubmitLeadRejectsBeforeOutboundCalls(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fixture, *lead.Payload)
		wantErr func(error) bool
	}{
		{
			name:    "no email or phone",
			mutate:  func(_ *fixture, p *lead.Payload) { p.Contact.Email, p.Contact.Phone = "", "" },
			wantErr: lead.IsValidation,
		},
		{
			name:    "crm not configured",
			mutate:  func(f *fixture, _ *lead.Payload) { f.crm.configured = false },
			wantErr: func(err error) bool { return errors.Is(err, lead.ErrNotConfigured) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := qualifiedPayload()
			tt.mutate(f, &p)
			_, err := f.svc.SubmitLead(context.Background(), Request{Payload: p})
			if !tt.wantErr(err) {
				t.Fatalf("err = %v", err)
			}
			if f.geo.calls+len(f.crm.contacts)+len(f.tracker.events)+len(f.fallback.kinds) != 0 {
				t.Error("expected zero outbound calls")
			}
		})
	}
}

func TestSubmitLegacy(t *testing.T) {
	f := newFixture(t)
	p := qualifiedPayload()
	p.Contact.PreferredTime = "Mornings"
	out, err := f.svc.SubmitLegacy(context.Background(), Request{Payload: p})
	if err != nil || !out.Delivered() {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if f.geo.calls != 0 || len(f.tracker.events) != 0 {
		t.Error("legacy path is CRM only")
	}
	notes := f.crm.contacts[0].Notes
	for _, want := range []string{"Pre-screening responses:", "• q1: Yes", "Preferred contact time: Mornings", "Submitted via legacy form"} {
		if !strings.Contains(notes, want) {
			t.Errorf("notes missing %q:\n%s", want, notes)
		}
	}

	p.Contact.FirstName = ""
	if _, err := f.svc.SubmitLegacy(context.Background(), Request{Payload: p}); !lead.IsValidation(err) {
		t.Errorf("missing first name err = %v", err)
	}
}

func TestSubmitLegacyCRMFailureWritesFallback(t *testing.T) {
	f := newFixture(t)
	f.crm.err = errors.New("timeout")
	out, err := f.svc.SubmitLegacy(context.Background(), Request{Payload: qualifiedPayload()})
	if err != nil || out.Delivered() {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if diff := cmp.Diff([]string{EndpointGoHighLevel}, f.fallback.kinds); diff != "" {
		t.Errorf("fallback kinds (-want +got):\n%s", diff)
	}
}

func TestRespond(t *testing.T) {
	failed := Outcome{CRMErr: errors.New("boom")}
	tests := []struct {
		name       string
		mode       lead.DeliveryMode
		out        Outcome
		wantStatus int
		want       lead.Receipt
	}{
		{"delivered strict", lead.StrictDelivery, Outcome{}, http.StatusOK, lead.Receipt{Success: true, Message: MsgSubmitted}},
		{"delivered best effort", lead.BestEffortDelivery, Outcome{}, http.StatusOK, lead.Receipt{Success: true, Message: MsgSubmitted}},
		{"failed strict", lead.StrictDelivery, failed, http.StatusBadGateway, lead.Receipt{Success: false, Message: MsgFailed}},
		{"failed best effort", lead.BestEffortDelivery, failed, http.StatusOK, lead.Receipt{Success: true, Message: MsgRecorded}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, got := Respond(tt.mode, tt.out)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("receipt (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLeadNotesOrder(t *testing.T) {
	p := lead.Payload{
		Answers: map[string]string{"q3": "No", "q1": "Yes", "zz": "extra"},
		Meta:    lead.Meta{EventID: "e1", UserPath: lead.PathContact, SkippedPrescreen: true},
	}
	got := LeadNotes(screening.Default, p, lead.Location{})
	want := strings.Join([]string{
		"Event ID: e1",
		"Path: contact",
		"Skipped pre-screening: yes",
		"Location: unknown",
		"",
		"Pre-screening answers:",
		"- " + screening.Default.At(0).Prompt + ": Yes",
		"- " + screening.Default.At(2).Prompt + ": No",
		"- zz: extra",
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("notes (-want +got):\n%s", diff)
	}
}
