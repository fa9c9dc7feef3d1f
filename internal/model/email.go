package model

import (
	"net/mail"
	"strings"
)

// NormalizeEmail trims and lower-cases a bare address, rejecting anything
// that is not exactly one well-formed address with a dotted domain.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ValidationError("a valid email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ValidationError("invalid email %q", raw)
	}
	if domain := email[strings.LastIndex(email, "@")+1:]; !strings.Contains(domain, ".") {
		return "", ValidationError("invalid email %q", raw)
	}
	return email, nil
}
