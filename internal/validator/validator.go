// Package validator provides input validation and sanitization functions
// for addresses, pagination and values stored from untrusted mail.
package validator

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors
var (
	ErrInvalidEmail  = errors.New("invalid email format")
	ErrInvalidDomain = errors.New("invalid domain format")
	ErrInputTooLong  = errors.New("input exceeds maximum length")
	ErrEmptyInput    = errors.New("input cannot be empty")
	ErrNotBare       = errors.New("address must not carry a display name")
)

// Domain regex: lowercase alphanumeric labels with inner hyphens, max 63 chars each
var domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// ValidateEmail validates email address format according to RFC 5322.
// Returns nil if valid, or an appropriate error.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if email == "" {
		return ErrEmptyInput
	}

	// RFC 5321 specifies max email length of 254 characters
	if utf8.RuneCountInString(email) > 254 {
		return ErrInputTooLong
	}

	// Use Go's mail package for RFC 5322 validation
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateRecipient checks that addr is a bare, routable mailbox address
// that a reply can be sent to.
func ValidateRecipient(addr string) error {
	if err := ValidateEmail(addr); err != nil {
		return err
	}

	addr = strings.TrimSpace(addr)
	parsed, _ := mail.ParseAddress(addr)
	if parsed.Name != "" || !strings.EqualFold(parsed.Address, addr) {
		return ErrNotBare
	}

	at := strings.LastIndex(parsed.Address, "@")
	if err := ValidateDomain(parsed.Address[at+1:]); err != nil {
		return err
	}
	return nil
}

// ValidateDomain validates domain name format against DNS standards.
// Returns nil if valid, or an appropriate error.
func ValidateDomain(domain string) error {
	domain = strings.TrimSpace(strings.ToLower(domain))

	if domain == "" {
		return ErrEmptyInput
	}

	// RFC 1035 specifies max domain length of 253 characters
	if len(domain) > 253 {
		return ErrInputTooLong
	}

	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	return nil
}

// Pagination constants
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ValidatePagination validates and sanitizes pagination parameters.
// Returns sanitized limit and offset values.
func ValidatePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// SanitizeFilename removes dangerous characters from filename.
// Prevents path traversal and removes control characters.
func SanitizeFilename(filename string) string {
	// Remove path separators to prevent path traversal
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")

	filename = stripControl(filename)
	filename = strings.TrimSpace(filename)
	filename = truncateRunes(filename, 255)

	if filename == "" {
		return "unnamed"
	}
	return filename
}

// SanitizeString removes control characters, trims whitespace and enforces
// a maximum length in runes when maxLength is positive.
func SanitizeString(input string, maxLength int) string {
	input = strings.TrimSpace(stripControl(input))
	if maxLength > 0 {
		input = truncateRunes(input, maxLength)
	}
	return input
}

// stripControl removes ASCII control characters (0-31 and 127).
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
