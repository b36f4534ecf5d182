// Package delivery sends verdict replies back to the users who reported a
// message.
package delivery

import (
	"context"
	"log/slog"
)

// Reply is one outbound verdict message.
type Reply struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// InReplyTo threads the reply under the reported message when set.
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// LogOnly records replies in the log instead of sending them. It is used
// when no outbound SMTP server is configured.
type LogOnly struct {
	logger *slog.Logger
}

// NewLogOnly creates a LogOnly sender
func NewLogOnly(logger *slog.Logger) *LogOnly {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOnly{logger: logger}
}

// Send logs the reply envelope.
func (l *LogOnly) Send(ctx context.Context, r Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.logger.Info("reply not sent, delivery disabled",
		slog.String("to", r.To),
		slog.String("subject", r.Subject),
		slog.Int("body_bytes", len(r.Body)),
	)
	return nil
}
