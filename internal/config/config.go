package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/trialreach/funnel/internal/lead"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SiteDir  string     `env:"SITE_DIR"`
	LeadsDir string     `env:"LEADS_DIR" envDefault:"leads"`

	// SubmitLeadDelivery is the contract for /api/submit-lead. The legacy
	// endpoint is always strict.
	SubmitLeadDelivery lead.DeliveryMode `env:"SUBMIT_LEAD_DELIVERY" envDefault:"best_effort"`

	CRM     CRM     `envPrefix:"CRM_"`
	Meta    Meta    `envPrefix:"META_"`
	IPGeo   IPGeo   `envPrefix:"IPGEO_"`
	Booking Booking `envPrefix:"BOOKING_"`
	OTel    OTel    `envPrefix:"OTEL_"`
}

type CRM struct {
	APIKey     string        `env:"API_KEY"`
	BaseURL    string        `env:"BASE_URL" envDefault:"https://rest.gohighlevel.com"`
	LeadSource string        `env:"LEAD_SOURCE" envDefault:"Website Pre-Screener"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type Meta struct {
	AccessToken   string        `env:"ACCESS_TOKEN"`
	PixelID       string        `env:"PIXEL_ID"`
	TestEventCode string        `env:"TEST_EVENT_CODE"`
	APIVersion    string        `env:"API_VERSION" envDefault:"v18.0"`
	BaseURL       string        `env:"BASE_URL" envDefault:"https://graph.facebook.com"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

type IPGeo struct {
	APIKey         string        `env:"API_KEY"`
	BaseURL        string        `env:"BASE_URL" envDefault:"https://api.ipgeolocation.io"`
	DefaultCountry string        `env:"DEFAULT_COUNTRY" envDefault:"US"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"3s"`
}

type Booking struct {
	WidgetURL      string        `env:"WIDGET_URL"`
	Endpoints      []string      `env:"ENDPOINTS" envSeparator:","`
	AttemptTimeout time.Duration `env:"ATTEMPT_TIMEOUT" envDefault:"3s"`
}

// OTel tracing is off unless Endpoint is set.
type OTel struct {
	Endpoint    string `env:"ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"funnel"`
}

// Load reads the optional .env files, then the environment. Variables
// already set in the process win over .env values.
func Load(dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
