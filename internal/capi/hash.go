package capi

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// UserData is the raw customer information the caller knows. It is only
// ever sent hashed.
type UserData struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Country    string `json:"country,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	FBC        string `json:"fbc,omitempty"`
	FBP        string `json:"fbp,omitempty"`
}

// wireUserData is the platform's user_data object. Identifier fields are
// SHA-256 hex of the normalized value.
type wireUserData struct {
	Em              []string `json:"em,omitempty"`
	Ph              []string `json:"ph,omitempty"`
	Fn              []string `json:"fn,omitempty"`
	Ln              []string `json:"ln,omitempty"`
	Ct              []string `json:"ct,omitempty"`
	St              []string `json:"st,omitempty"`
	Zp              []string `json:"zp,omitempty"`
	Country         []string `json:"country,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
}

func hashUserData(u UserData, clientIP, userAgent string) wireUserData {
	return wireUserData{
		Em:              hashed(normalizeEmail(u.Email)),
		Ph:              hashed(normalizePhone(u.Phone)),
		Fn:              hashed(normalizeName(u.FirstName)),
		Ln:              hashed(normalizeName(u.LastName)),
		Ct:              hashed(normalizeCity(u.City)),
		St:              hashed(normalizeCode(u.State, 2)),
		Zp:              hashed(normalizeZip(u.Zip)),
		Country:         hashed(normalizeCode(u.Country, 2)),
		ExternalID:      hashed(strings.TrimSpace(u.ExternalID)),
		ClientIPAddress: clientIP,
		ClientUserAgent: userAgent,
		FBC:             u.FBC,
		FBP:             u.FBP,
	}
}

// Hash returns the lowercase hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hashed(s string) []string {
	if s == "" {
		return nil
	}
	return []string{Hash(s)}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizePhone keeps digits only. A bare 10-digit number is assumed to
// be North American and gets the country code.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		return "1" + digits
	}
	return digits
}

func normalizeName(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

func normalizeCity(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

func normalizeCode(s string, n int) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != n {
		return ""
	}
	return s
}

func normalizeZip(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	return s
}
