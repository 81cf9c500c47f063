package lead

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means a required server-side credential is missing. The
// message returned to clients must stay generic.
var ErrNotConfigured = errors.New("delivery target not configured")

// ValidationError is a client mistake: malformed body or missing fields.
type ValidationError struct {
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// Invalid builds a ValidationError with a client-safe message.
func Invalid(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}

// DeliveryError is a non-success answer from an upstream service. Body is
// for server logs only.
type DeliveryError struct {
	Target     string
	StatusCode int
	Body       string
	Cause      error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s delivery failed: %v", e.Target, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s delivery failed: status %d", e.Target, e.StatusCode)
	default:
		return fmt.Sprintf("%s delivery failed", e.Target)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// DeliveryMode selects how an endpoint reports a CRM failure to the client.
type DeliveryMode string

const (
	// StrictDelivery surfaces CRM failures as a failed submission.
	StrictDelivery DeliveryMode = "strict"
	// BestEffortDelivery reports success and relies on the fallback store.
	BestEffortDelivery DeliveryMode = "best_effort"
)

// UnmarshalText lets caarlos0/env parse the mode from the environment.
func (m *DeliveryMode) UnmarshalText(b []byte) error {
	switch v := DeliveryMode(b); v {
	case StrictDelivery, BestEffortDelivery:
		*m = v
		return nil
	case "":
		*m = BestEffortDelivery
		return nil
	}
	return fmt.Errorf("unknown delivery mode %q", string(b))
}
