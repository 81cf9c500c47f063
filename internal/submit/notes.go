package submit

import (
	"fmt"
	"strings"

	"github.com/trialreach/funnel/internal/lead"
	"github.com/trialreach/funnel/internal/screening"
)

// LeadNotes renders the CRM notes for the wizard endpoint. Answers follow
// table order; ids the table does not know come last, sorted.
func LeadNotes(table *screening.Table, p lead.Payload, loc lead.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event ID: %s\n", p.Meta.EventID)
	fmt.Fprintf(&b, "Path: %s\n", p.EffectivePath())
	fmt.Fprintf(&b, "Skipped pre-screening: %s\n", yesNo(p.Meta.SkippedPrescreen))
	if p.Contact.PreferredTime != "" {
		fmt.Fprintf(&b, "Preferred time: %s\n", p.Contact.PreferredTime)
	}
	fmt.Fprintf(&b, "Location: %s\n", loc)

	if len(p.Answers) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("\nPre-screening answers:\n")
	seen := make(map[string]bool, len(p.Answers))
	for _, q := range table.Questions() {
		a, ok := p.Answers[q.ID]
		if !ok {
			continue
		}
		seen[q.ID] = true
		fmt.Fprintf(&b, "- %s: %s\n", q.Prompt, a)
	}
	for _, id := range p.AnswerIDs() {
		if !seen[id] {
			fmt.Fprintf(&b, "- %s: %s\n", id, p.Answers[id])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// LegacyNotes renders the notes for the CRM-only endpoint.
func LegacyNotes(p lead.Payload) string {
	var b strings.Builder
	if len(p.Answers) > 0 {
		b.WriteString("Pre-screening responses:\n")
		for _, id := range p.AnswerIDs() {
			fmt.Fprintf(&b, "• %s: %s\n", id, p.Answers[id])
		}
		b.WriteString("\n")
	}
	if p.Contact.PreferredTime != "" {
		fmt.Fprintf(&b, "Preferred contact time: %s\n", p.Contact.PreferredTime)
	}
	if p.Meta.EventID != "" {
		fmt.Fprintf(&b, "Event ID: %s\n", p.Meta.EventID)
	}
	b.WriteString("Submitted via legacy form")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
