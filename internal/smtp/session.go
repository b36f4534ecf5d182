package smtp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/validator"
)

// Session implements the go-smtp Session interface
type Session struct {
	backend    *Backend
	remoteAddr string
	from       string
	recipients []string
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend, remoteAddr string) *Session {
	return &Session{
		backend:    backend,
		remoteAddr: remoteAddr,
		recipients: make([]string, 0),
	}
}

// Mail handles the MAIL FROM command. The null reverse-path is accepted.
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	s.backend.logger.Debug("MAIL FROM", slog.String("from", from))
	return nil
}

// Rcpt handles the RCPT TO command
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	_, domain, err := parseEmailAddress(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}

	if !s.backend.accepts(domain) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Relaying denied",
		}
	}

	s.recipients = append(s.recipients, to)
	s.backend.logger.Debug("RCPT TO", slog.String("to", to))
	return nil
}

// Data handles the DATA command. The message is accepted once it is
// queued; analysis and the verdict reply happen afterwards.
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return err
		}
		s.backend.logger.Error("failed to read message data", slog.Any("error", err))
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary error",
		}
	}

	id := "smtp-" + uuid.New().String()
	s.backend.enqueue(pipeline.Artifact{ID: id, Raw: raw})

	s.backend.logger.Info("report received",
		slog.String("artifact_id", id),
		slog.String("remote_addr", s.remoteAddr),
		slog.Int("size", len(raw)),
		slog.Int("recipients", len(s.recipients)))
	return nil
}

// Reset resets the session state
func (s *Session) Reset() {
	s.from = ""
	s.recipients = make([]string, 0)
}

// Logout handles the end of the session
func (s *Session) Logout() error {
	return nil
}

// parseEmailAddress parses an email address into local part and domain
func parseEmailAddress(address string) (localPart, domain string, err error) {
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	address = strings.TrimSpace(address)

	if err := validator.ValidateRecipient(address); err != nil {
		return "", "", fmt.Errorf("invalid email address: %s", address)
	}

	at := strings.LastIndex(address, "@")
	return strings.ToLower(address[:at]), strings.ToLower(address[at+1:]), nil
}
