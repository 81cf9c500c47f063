package lead

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

type flatBody struct {
	EventID          string   `json:"eventId"`
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone"`
	PreferredTime    string   `json:"preferredTime"`
	UserPath         UserPath `json:"userPath"`
	SkippedPrescreen bool     `json:"skippedPrescreen"`
	Tags             []string `json:"tags"`
	SourceURL        string   `json:"sourceUrl"`
}

// DecodePayload parses a submission body. It accepts the envelope form
// {contact, answers, meta} and the flat form where answers are spread into
// the top level next to the contact fields.
func DecodePayload(data []byte) (Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Payload{}, &ValidationError{Message: "invalid request body", Cause: err}
	}
	if raw == nil {
		return Payload{}, Invalid("invalid request body")
	}

	var p Payload
	if isObject(raw["contact"]) || isObject(raw["meta"]) {
		if err := json.Unmarshal(data, &p); err != nil {
			return Payload{}, &ValidationError{Message: "invalid request body", Cause: err}
		}
	} else {
		var f flatBody
		if err := json.Unmarshal(data, &f); err != nil {
			return Payload{}, &ValidationError{Message: "invalid request body", Cause: err}
		}
		p = Payload{
			Contact: Contact{
				FirstName:     f.FirstName,
				LastName:      f.LastName,
				Email:         f.Email,
				Phone:         f.Phone,
				PreferredTime: f.PreferredTime,
			},
			Meta: Meta{
				EventID:          f.EventID,
				UserPath:         f.UserPath,
				SkippedPrescreen: f.SkippedPrescreen,
				Tags:             f.Tags,
				SourceURL:        f.SourceURL,
			},
		}
		if p.Contact.FirstName == "" && f.Name != "" {
			p.Contact.FirstName, p.Contact.LastName = SplitName(f.Name)
		}
		p.Answers = make(map[string]string)
		for k, v := range raw {
			if !IsQuestionID(k) {
				continue
			}
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			p.Answers[k] = s
		}
	}

	if p.Answers == nil {
		p.Answers = make(map[string]string)
	}
	if !p.Meta.UserPath.Valid() {
		return Payload{}, Invalid("unknown userPath")
	}
	p.Contact = p.Contact.Normalize()
	return p, nil
}

// IsQuestionID reports whether key has the shape of a screening question
// id ("q" followed by digits). Flat bodies also carry tracking and page
// fields, and only question ids become answers.
func IsQuestionID(key string) bool {
	digits, ok := strings.CutPrefix(key, "q")
	if !ok || digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isObject(m json.RawMessage) bool {
	m = bytes.TrimSpace(m)
	return len(m) > 0 && m[0] == '{'
}

// SplitName splits a single name field at the first space.
func SplitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	first, last, _ = strings.Cut(name, " ")
	return first, strings.TrimSpace(last)
}

// RequireReachable checks that a contact can be called back.
func RequireReachable(c Contact) error {
	if c.Email == "" && c.Phone == "" {
		return Invalid("email or phone is required")
	}
	return nil
}

// IsValidation reports whether err is a client validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
