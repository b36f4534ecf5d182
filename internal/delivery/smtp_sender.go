package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	apperrors "github.com/welldanyogia/webrana-phishtriage/internal/errors"
)

// DefaultTimeout bounds every SMTP command of a submission.
const DefaultTimeout = 30 * time.Second

// SMTPConfig holds the submission server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
	// AllowInsecureAuth permits PLAIN credentials over an unencrypted
	// connection. Only for local relays.
	AllowInsecureAuth bool
	TLSConfig         *tls.Config
	Timeout           time.Duration
}

// SMTPSender submits replies to an SMTP server. Submissions are serialized
// so the relay sees a single client connection at a time.
type SMTPSender struct {
	cfg    SMTPConfig
	mu     sync.Mutex
	logger *slog.Logger
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port must be between 1 and 65535")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPSender{cfg: cfg, logger: logger}, nil
}

// Send builds the reply message and submits it. Errors wrap ErrDelivery.
func (s *SMTPSender) Send(ctx context.Context, r Reply) error {
	if r.To == "" {
		return fmt.Errorf("%w: empty recipient", apperrors.ErrDelivery)
	}

	msg, err := s.BuildMessage(r)
	if err != nil {
		return fmt.Errorf("%w: build message: %v", apperrors.ErrDelivery, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDelivery, err)
	}

	if err := s.submit(ctx, r.To, msg); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDelivery, err)
	}

	s.logger.Info("reply delivered",
		slog.String("to", r.To),
		slog.String("subject", r.Subject),
	)
	return nil
}

// BuildMessage renders the reply as an RFC 5322 message.
func (s *SMTPSender) BuildMessage(r Reply) ([]byte, error) {
	b := enmime.Builder().
		From(s.cfg.FromName, s.cfg.From).
		To("", r.To).
		Subject(r.Subject).
		Date(time.Now()).
		Header("Message-ID", "<"+uuid.NewString()+"@"+s.messageIDDomain()+">").
		Header("Auto-Submitted", "auto-replied").
		Text([]byte(r.Body))
	if r.InReplyTo != "" {
		b = b.Header("In-Reply-To", r.InReplyTo).Header("References", r.InReplyTo)
	}

	part, err := b.Build()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SMTPSender) messageIDDomain() string {
	if at := strings.LastIndex(s.cfg.From, "@"); at >= 0 && at < len(s.cfg.From)-1 {
		return s.cfg.From[at+1:]
	}
	return s.cfg.Host
}

func (s *SMTPSender) submit(ctx context.Context, to string, msg []byte) error {
	client, secure, err := s.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	// Abort the exchange if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	client.CommandTimeout = s.cfg.Timeout
	client.SubmissionTimeout = s.cfg.Timeout

	if s.cfg.Username != "" {
		if !secure && !s.cfg.AllowInsecureAuth {
			return fmt.Errorf("refusing to authenticate over an unencrypted connection")
		}
		if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}

	return client.Quit()
}

// dial connects to the submission server. Without implicit TLS it
// negotiates STARTTLS and only falls back to plaintext when the server does
// not offer it and no credentials would be exposed.
func (s *SMTPSender) dial() (*smtp.Client, bool, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if s.cfg.ImplicitTLS {
		c, err := smtp.DialTLS(addr, s.cfg.TLSConfig)
		if err != nil {
			return nil, false, fmt.Errorf("dial tls %s: %w", addr, err)
		}
		return c, true, nil
	}

	c, tlsErr := smtp.DialStartTLS(addr, s.cfg.TLSConfig)
	if tlsErr == nil {
		return c, true, nil
	}
	if s.cfg.Username != "" && !s.cfg.AllowInsecureAuth {
		return nil, false, fmt.Errorf("refusing to authenticate over an unencrypted connection: starttls %s: %w", addr, tlsErr)
	}

	plain, err := smtp.Dial(addr)
	if err != nil {
		return nil, false, fmt.Errorf("dial %s: %w", addr, err)
	}
	// A server that offers STARTTLS but failed it is not downgraded.
	if ok, _ := plain.Extension("STARTTLS"); ok {
		_ = plain.Close()
		return nil, false, fmt.Errorf("starttls %s: %w", addr, tlsErr)
	}
	s.logger.Warn("smtp server does not offer STARTTLS, sending in plaintext", slog.String("addr", addr))
	return plain, false, nil
}
