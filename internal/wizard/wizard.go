// Package wizard drives the pre-screening flow: questions, disqualification
// and back-tracking, the qualified branch choices and the final contact
// submission. A Machine is owned by one visitor; every action runs to
// completion before the next is accepted.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/screening"
)

// Step is the active screen.
type Step string

const (
	StepAsking             Step = "asking"
	StepDisqualified       Step = "disqualified"
	StepQualified          Step = "qualified"
	StepContactForm        Step = "contact_form"
	StepBookingOpened      Step = "booking_opened"
	StepReservationSuccess Step = "reservation_success"
	StepContactSuccess     Step = "contact_success"
)

var (
	ErrInvalidTransition = errors.New("action not allowed in current step")
	ErrBusy              = errors.New("submission in progress")
)

// ContactInfo is what the contact form collects.
type ContactInfo struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	PreferredTime string
}

// Submitter delivers a finished lead to the submission service.
type Submitter interface {
	SubmitLead(ctx context.Context, p lead.Payload) (lead.Receipt, error)
}

// BookingOpener resolves and opens the external scheduling link.
type BookingOpener interface {
	OpenBooking(ctx context.Context, c ContactInfo) (string, error)
}

// State is a snapshot of a Machine.
type State struct {
	Step             Step
	Index            int
	Answers          map[string]string
	SkippedPrescreen bool
	UserPath         lead.UserPath
	Contact          ContactInfo
	Submitting       bool
	Error            string
	BookingURL       string
}

// Machine is the wizard controller.
type Machine struct {
	table     *screening.Table
	submitter Submitter
	booking   BookingOpener
	newID     func() string

	mu    sync.Mutex
	state State
}

// Option customizes a Machine.
type Option func(*Machine)

// WithEventIDs overrides event id generation.
func WithEventIDs(fn func() string) Option {
	return func(m *Machine) { m.newID = fn }
}

// New creates a machine at the first question.
func New(table *screening.Table, submitter Submitter, booking BookingOpener, opts ...Option) *Machine {
	m := &Machine{
		table:     table,
		submitter: submitter,
		booking:   booking,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = initialState()
	return m
}

func initialState() State {
	return State{Step: StepAsking, Answers: make(map[string]string)}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Answers = maps.Clone(m.state.Answers)
	return s
}

// Question returns the question being asked, if any.
func (m *Machine) Question() (screening.Question, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Step != StepAsking {
		return screening.Question{}, false
	}
	return m.table.At(m.state.Index), true
}

// DisqualifyMessage returns the message for the question that ended the
// screener.
func (m *Machine) DisqualifyMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Step != StepDisqualified {
		return ""
	}
	return m.table.At(m.state.Index).DisqualifyMessage
}

// Answer records an answer for the current question and advances.
func (m *Machine) Answer(answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(StepAsking); err != nil {
		return err
	}

	q := m.table.At(m.state.Index)
	outcome, err := q.Evaluate(answer)
	if err != nil {
		return err
	}
	m.state.Answers[q.ID] = answer

	switch {
	case outcome == screening.Disqualified:
		m.state.Step = StepDisqualified
	case m.state.Index == m.table.Len()-1:
		m.state.Step = StepQualified
	default:
		m.state.Index++
	}
	return nil
}

// TakeMeBack re-asks the question that disqualified the visitor. Only that
// question's answer is forgotten.
func (m *Machine) TakeMeBack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(StepDisqualified); err != nil {
		return err
	}
	delete(m.state.Answers, m.table.At(m.state.Index).ID)
	m.state.Step = StepAsking
	return nil
}

// Skip abandons the questionnaire and jumps to the qualified screen.
func (m *Machine) Skip() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(StepAsking); err != nil {
		return err
	}
	m.state.Answers = make(map[string]string)
	m.state.SkippedPrescreen = true
	m.state.Step = StepQualified
	return nil
}

// TalkToSomeone chooses the contact-first branch.
func (m *Machine) TalkToSomeone() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(StepQualified); err != nil {
		return err
	}
	m.state.UserPath = lead.PathContact
	m.state.Step = StepContactForm
	m.state.Error = ""
	return nil
}

// BackToQualified leaves the contact form.
func (m *Machine) BackToQualified() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(StepContactForm); err != nil {
		return err
	}
	m.state.Step = StepQualified
	m.state.Error = ""
	return nil
}

// BookInstantly chooses the instant-booking branch and opens the
// scheduling link. The contact form contents so far prefill the link.
func (m *Machine) BookInstantly(ctx context.Context, c ContactInfo) (string, error) {
	m.mu.Lock()
	if err := m.ready(StepQualified); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.state.UserPath = lead.PathInstant
	m.state.Contact = c
	m.state.Submitting = true
	m.mu.Unlock()

	url, err := m.booking.OpenBooking(ctx, c)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Submitting = false
	if err != nil {
		m.state.Error = "We couldn't open the booking calendar. Please try again."
		return "", err
	}
	m.state.Error = ""
	m.state.BookingURL = url
	m.state.Step = StepBookingOpened
	return url, nil
}

// Submit sends the contact info and answers to the submission service. On
// failure the step is unchanged and the error message is kept for display;
// the visitor has to resubmit.
func (m *Machine) Submit(ctx context.Context, c ContactInfo) (lead.Receipt, error) {
	m.mu.Lock()
	if m.state.Submitting {
		m.mu.Unlock()
		return lead.Receipt{}, ErrBusy
	}
	if m.state.Step != StepQualified && m.state.Step != StepContactForm {
		m.mu.Unlock()
		return lead.Receipt{}, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, m.state.Step)
	}
	if m.state.UserPath == lead.PathUnset {
		m.state.UserPath = lead.PathQualified
	}
	m.state.Contact = c
	m.state.Submitting = true
	p := m.payload()
	m.mu.Unlock()

	receipt, err := m.submitter.SubmitLead(ctx, p)
	if err == nil && !receipt.Success {
		err = fmt.Errorf("submission rejected: %s", receipt.Message)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Submitting = false
	if err != nil {
		m.state.Error = errorMessage(receipt)
		return receipt, err
	}
	m.state.Error = ""
	if m.state.UserPath == lead.PathContact {
		m.state.Step = StepContactSuccess
	} else {
		m.state.Step = StepReservationSuccess
	}
	return receipt, nil
}

// StartOver discards everything and returns to the first question.
func (m *Machine) StartOver() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Submitting {
		return ErrBusy
	}
	m.state = initialState()
	return nil
}

// payload builds the outbound lead. Callers hold mu.
func (m *Machine) payload() lead.Payload {
	s := m.state
	return lead.Payload{
		Contact: lead.Contact{
			FirstName:     s.Contact.FirstName,
			LastName:      s.Contact.LastName,
			Email:         s.Contact.Email,
			Phone:         s.Contact.Phone,
			PreferredTime: s.Contact.PreferredTime,
		}.Normalize(),
		Answers: maps.Clone(s.Answers),
		Meta: lead.Meta{
			EventID:          m.newID(),
			UserPath:         s.UserPath,
			SkippedPrescreen: s.SkippedPrescreen,
			Tags:             lead.TagsFor(s.UserPath, s.SkippedPrescreen),
		},
	}
}

// ready checks the step and busy flag. Callers hold mu.
func (m *Machine) ready(want Step) error {
	if m.state.Submitting {
		return ErrBusy
	}
	if m.state.Step != want {
		return fmt.Errorf("%w: in %s, need %s", ErrInvalidTransition, m.state.Step, want)
	}
	return nil
}

func errorMessage(r lead.Receipt) string {
	if r.Message != "" {
		return r.Message
	}
	return "Something went wrong. Please try again."
}
