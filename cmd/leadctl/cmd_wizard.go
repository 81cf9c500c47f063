package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trialreach/funnel/internal/leadclient"
	"github.com/trialreach/funnel/internal/screening"
	"github.com/trialreach/funnel/internal/wizard"
)

var errQuit = errors.New("quit")

func newWizardCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "wizard",
		Short: "Walk through the pre-screening wizard in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := leadclient.New(serverURL)
			m := wizard.New(screening.Default, client, client)
			t := &terminal{in: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout()}
			err := drive(cmd.Context(), m, t)
			if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Funnel server base URL")
	return cmd
}

type terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

func (t *terminal) ask(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := strings.TrimSpace(t.in.Text())
	if strings.EqualFold(line, "quit") {
		return "", errQuit
	}
	return line, nil
}

func (t *terminal) contact() (wizard.ContactInfo, error) {
	var c wizard.ContactInfo
	for _, f := range []struct {
		prompt string
		dst    *string
	}{
		{"First name: ", &c.FirstName},
		{"Last name: ", &c.LastName},
		{"Email: ", &c.Email},
		{"Phone: ", &c.Phone},
		{"Preferred time (optional): ", &c.PreferredTime},
	} {
		v, err := t.ask(f.prompt)
		if err != nil {
			return c, err
		}
		*f.dst = v
	}
	return c, nil
}

// drive runs one wizard until the input ends or the user quits.
func drive(ctx context.Context, m *wizard.Machine, t *terminal) error {
	for {
		s := m.State()
		if s.Error != "" {
			fmt.Fprintf(t.out, "! %s\n", s.Error)
		}
		var err error
		switch s.Step {
		case wizard.StepAsking:
			err = askQuestion(m, t)
		case wizard.StepDisqualified:
			fmt.Fprintf(t.out, "\nUnfortunately you don't qualify. %s\n", m.DisqualifyMessage())
			var line string
			if line, err = t.ask("[back] to change your answer, [quit] to exit: "); err == nil && line == "back" {
				err = m.TakeMeBack()
			}
		case wizard.StepQualified:
			err = qualified(ctx, m, t)
		case wizard.StepContactForm:
			err = contactForm(ctx, m, t)
		case wizard.StepBookingOpened:
			fmt.Fprintf(t.out, "\nOpen this link to pick a time:\n  %s\n", s.BookingURL)
			err = finished(m, t)
		case wizard.StepReservationSuccess:
			fmt.Fprintln(t.out, "\nYou're all set! Our team will reach out to confirm your spot.")
			err = finished(m, t)
		case wizard.StepContactSuccess:
			fmt.Fprintln(t.out, "\nThanks! A coordinator will contact you soon.")
			err = finished(m, t)
		}
		if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
			return err
		}
		if err != nil && s.Error == "" && m.State().Error == "" {
			fmt.Fprintf(t.out, "! %v\n", err)
		}
	}
}

func askQuestion(m *wizard.Machine, t *terminal) error {
	q, _ := m.Question()
	s := m.State()
	line, err := t.ask(fmt.Sprintf("\n(%d/%d) %s [%s] or [skip]: ", s.Index+1, screening.Default.Len(), q.Prompt, strings.Join(q.Answers, "/")))
	if err != nil {
		return err
	}
	if strings.EqualFold(line, "skip") {
		return m.Skip()
	}
	for _, a := range q.Answers {
		if strings.EqualFold(a, line) {
			return m.Answer(a)
		}
	}
	return m.Answer(line)
}

func qualified(ctx context.Context, m *wizard.Machine, t *terminal) error {
	fmt.Fprintln(t.out, "\nGreat news, you may qualify!")
	line, err := t.ask("[book] now, [talk] to someone first, or [submit] your details: ")
	if err != nil {
		return err
	}
	switch line {
	case "book":
		c, err := t.contact()
		if err != nil {
			return err
		}
		_, err = m.BookInstantly(ctx, c)
		return err
	case "talk":
		return m.TalkToSomeone()
	case "submit":
		return submitContact(ctx, m, t)
	}
	return fmt.Errorf("unknown choice %q", line)
}

func contactForm(ctx context.Context, m *wizard.Machine, t *terminal) error {
	line, err := t.ask("\n[submit] your details or go [back]: ")
	if err != nil {
		return err
	}
	switch line {
	case "submit":
		return submitContact(ctx, m, t)
	case "back":
		return m.BackToQualified()
	}
	return fmt.Errorf("unknown choice %q", line)
}

func submitContact(ctx context.Context, m *wizard.Machine, t *terminal) error {
	c, err := t.contact()
	if err != nil {
		return err
	}
	_, err = m.Submit(ctx, c)
	return err
}

func finished(m *wizard.Machine, t *terminal) error {
	line, err := t.ask("[again] to start over, [quit] to exit: ")
	if err != nil {
		return err
	}
	if line == "again" {
		return m.StartOver()
	}
	return nil
}
