package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/trialreach/funnel/internal/lead"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var jane = lead.Contact{FirstName: " Jane ", LastName: "Doe", Email: "Jane@Example.com", Phone: "5125550100"}

func TestResolveFirstEndpointWins(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"bookingUrl":"https://cal.example.com/b/123"}`)
	}))
	defer good.Close()

	s := New(Config{Endpoints: []string{bad.URL, " ", good.URL}, WidgetURL: "https://widget.example.com/book"}, discard())
	got, err := s.Resolve(context.Background(), jane)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Link{URL: "https://cal.example.com/b/123", Strategy: "endpoint-3"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResolveFallsThroughToWidget(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	junk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"url":"javascript:alert(1)"}`)
	}))
	defer junk.Close()

	s := New(Config{
		Endpoints:      []string{slow.URL, junk.URL},
		WidgetURL:      "https://widget.example.com/book?calendar=abc",
		AttemptTimeout: 50 * time.Millisecond,
	}, discard())

	start := time.Now()
	got, err := s.Resolve(context.Background(), jane)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("attempt timeout not applied, took %s", elapsed)
	}
	if got.Strategy != WidgetStrategy {
		t.Fatalf("strategy = %s", got.Strategy)
	}
	u, _ := url.Parse(got.URL)
	q := u.Query()
	if q.Get("calendar") != "abc" || q.Get("first_name") != "Jane" || q.Get("email") != "jane@example.com" {
		t.Errorf("widget url = %s", got.URL)
	}
}

type stubStrategy struct {
	name string
	url  string
	err  error
}

func (s stubStrategy) Name() string { return s.name }
func (s stubStrategy) Link(context.Context, lead.Contact) (string, error) {
	return s.url, s.err
}

func TestResolveNoLink(t *testing.T) {
	s := New(Config{}, discard(), WithStrategies(stubStrategy{name: "a", err: errors.New("down")}))
	if _, err := s.Resolve(context.Background(), jane); !errors.Is(err, ErrNoLink) {
		t.Errorf("err = %v, want ErrNoLink", err)
	}
}

func TestWidgetURLDeterministic(t *testing.T) {
	a, _ := WidgetURL("https://w.example.com/x", jane.Normalize())
	b, _ := WidgetURL("https://w.example.com/x", jane.Normalize())
	if a != b {
		t.Errorf("%s != %s", a, b)
	}
	bare, _ := WidgetURL("https://w.example.com/x", lead.Contact{})
	if bare != "https://w.example.com/x" {
		t.Errorf("empty contact url = %s", bare)
	}
}
