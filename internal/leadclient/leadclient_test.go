package leadclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/screening"
	"github.com/trialreach/funnel/internal/wizard"
)

func TestWizardThroughClient(t *testing.T) {
	var got lead.Payload
	r := chi.NewRouter()
	r.Post("/api/submit-lead", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		p, err := lead.DecodePayload(raw)
		if err != nil {
			t.Errorf("decode: %v", err)
		}
		got = p
		io.WriteString(w, `{"success":true,"message":"thanks"}`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New(srv.URL)
	m := wizard.New(screening.Default, c, c)
	if err := m.Skip(); err != nil {
		t.Fatal(err)
	}
	receipt, err := m.Submit(context.Background(), wizard.ContactInfo{FirstName: "Jane", Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !receipt.Success || receipt.Message != "thanks" {
		t.Errorf("receipt = %+v", receipt)
	}
	if got.Meta.EventID == "" || !got.Meta.SkippedPrescreen || got.Meta.UserPath != lead.PathQualified {
		t.Errorf("server saw %+v", got.Meta)
	}
	if m.State().Step != wizard.StepReservationSuccess {
		t.Errorf("step = %s", m.State().Step)
	}
}

func TestSubmitLeadErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"validation", http.StatusBadRequest, `{"error":"email or phone is required"}`, "email or phone is required"},
		{"strict failure", http.StatusBadGateway, `{"success":false,"message":"try again"}`, "try again"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			r, err := New(srv.URL).SubmitLead(context.Background(), lead.Payload{})
			if err == nil {
				t.Fatal("expected error")
			}
			if r.Message != tt.wantMsg || r.Success {
				t.Errorf("receipt = %+v", r)
			}
		})
	}
}

func TestOpenBooking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c lead.Contact
		json.NewDecoder(r.Body).Decode(&c)
		if r.URL.Path != "/api/booking-link" || c.Phone != "555" {
			t.Errorf("unexpected request %s %+v", r.URL.Path, c)
		}
		io.WriteString(w, `{"url":"https://cal.example.com/x","strategy":"widget"}`)
	}))
	defer srv.Close()

	u, err := New(srv.URL+"/").OpenBooking(context.Background(), wizard.ContactInfo{Phone: "555"})
	if err != nil || u != "https://cal.example.com/x" {
		t.Errorf("url=%q err=%v", u, err)
	}
}
