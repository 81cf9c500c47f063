// Package lead defines the core funnel types: the lead envelope sent by the
// wizard, path metadata, tags, the error taxonomy and the delivery
// contracts. It has zero external dependencies.
package lead

import (
	"sort"
	"strings"
)

// UserPath records which branch of the wizard produced the lead.
type UserPath string

const (
	PathUnset     UserPath = ""
	PathInstant   UserPath = "instant"
	PathContact   UserPath = "contact"
	PathQualified UserPath = "qualified"
)

// Valid reports whether p is a known path, including unset.
func (p UserPath) Valid() bool {
	switch p {
	case PathUnset, PathInstant, PathContact, PathQualified:
		return true
	}
	return false
}

const (
	TagWebsiteLead     = "Website Lead"
	TagQualified       = "Qualified Pre-Screening"
	TagTalkFirst       = "Talk to Someone First"
	TagInstantBooking  = "Instant Booking"
	TagSkippedScreener = "Skipped Pre-Screening"
)

// Contact is the person-identifying part of a lead.
type Contact struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	PreferredTime string `json:"preferredTime,omitempty"`
}

// Normalize trims whitespace and lowercases the email.
func (c Contact) Normalize() Contact {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
	c.PreferredTime = strings.TrimSpace(c.PreferredTime)
	return c
}

// FullName joins first and last name.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Meta carries path metadata and the deduplication key.
type Meta struct {
	EventID          string   `json:"eventId"`
	UserPath         UserPath `json:"userPath"`
	SkippedPrescreen bool     `json:"skippedPrescreen"`
	Tags             []string `json:"tags,omitempty"`
	SourceURL        string   `json:"sourceUrl,omitempty"`
}

// Payload is one submission attempt. EventID is shared between the CRM
// note and the conversion event so downstream systems can deduplicate.
type Payload struct {
	Contact Contact           `json:"contact"`
	Answers map[string]string `json:"answers"`
	Meta    Meta              `json:"meta"`
}

// EffectivePath resolves an unset path to "qualified": a contact form
// submitted without choosing a branch is a qualified-screener lead.
func (p Payload) EffectivePath() UserPath {
	if p.Meta.UserPath == PathUnset {
		return PathQualified
	}
	return p.Meta.UserPath
}

// TagsFor derives the CRM tags implied by path metadata.
func TagsFor(path UserPath, skipped bool) []string {
	tags := []string{TagWebsiteLead}
	switch path {
	case PathUnset, PathQualified:
		tags = append(tags, TagQualified)
	case PathContact:
		tags = append(tags, TagTalkFirst)
	case PathInstant:
		tags = append(tags, TagInstantBooking)
	}
	if skipped {
		tags = append(tags, TagSkippedScreener)
	}
	return tags
}

// MergeTags unions tag sets, dropping blanks and case-insensitive
// duplicates. The first spelling wins; order of first appearance is kept.
func MergeTags(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, t := range set {
			t = strings.TrimSpace(t)
			key := strings.ToLower(t)
			if t == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

// AllTags is the union of client-supplied tags and derived tags.
func (p Payload) AllTags() []string {
	return MergeTags(p.Meta.Tags, TagsFor(p.EffectivePath(), p.Meta.SkippedPrescreen))
}

// AnswerIDs returns answered question ids in sorted order.
func (p Payload) AnswerIDs() []string {
	ids := make([]string, 0, len(p.Answers))
	for id := range p.Answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Location is the best-effort geolocation attached to a lead.
type Location struct {
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// String renders a human readable location for notes.
func (l Location) String() string {
	var parts []string
	for _, s := range []string{l.City, l.State, l.PostalCode} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if l.Country != "" {
		parts = append(parts, l.Country)
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}

// Receipt is the client-facing result of a submission.
type Receipt struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Note    string `json:"note,omitempty"`
}
