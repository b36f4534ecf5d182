// Package logger provides structured logging for the triage service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// New creates a JSON slog.Logger writing to stdout at the given level.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates a JSON slog.Logger writing to w.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler)
}

// ParseLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PipelineLogger records triage events for one service instance.
// It never logs message bodies or credentials.
type PipelineLogger struct {
	logger *slog.Logger
}

// NewPipelineLogger wraps an existing logger. A nil logger discards output.
func NewPipelineLogger(logger *slog.Logger) *PipelineLogger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &PipelineLogger{logger: logger}
}

// NewPipelineLoggerWithHandler creates a PipelineLogger with a custom handler.
func NewPipelineLoggerWithHandler(handler slog.Handler) *PipelineLogger {
	return &PipelineLogger{logger: slog.New(handler)}
}

// ArtifactProcessed logs a completed pipeline pass.
func (p *PipelineLogger) ArtifactProcessed(artifactID, outcome, level string, score, links, attachments int) {
	p.logger.Info("artifact_processed",
		slog.String("event_type", "artifact_processed"),
		slog.String("artifact_id", artifactID),
		slog.String("outcome", outcome),
		slog.String("threat_level", level),
		slog.Int("score", score),
		slog.Int("links", links),
		slog.Int("attachments", attachments),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// ArtifactFailed logs an artifact that could not be analysed.
func (p *PipelineLogger) ArtifactFailed(artifactID, reason string) {
	p.logger.Error("artifact_failed",
		slog.String("event_type", "artifact_failed"),
		slog.String("artifact_id", artifactID),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// ArtifactSkipped logs an artifact with no addressable sender.
func (p *PipelineLogger) ArtifactSkipped(artifactID, reason string) {
	p.logger.Info("artifact_skipped",
		slog.String("event_type", "artifact_skipped"),
		slog.String("artifact_id", artifactID),
		slog.String("reason", reason),
	)
}

// ReputationDegraded logs a reputation lookup that was absorbed as clean.
func (p *PipelineLogger) ReputationDegraded(artifactID, url string, err error) {
	p.logger.Warn("reputation_degraded",
		slog.String("event_type", "reputation_degraded"),
		slog.String("artifact_id", artifactID),
		slog.String("url", url),
		slog.Any("error", err),
	)
}

// DeliveryFailed logs a reply that could not be sent.
func (p *PipelineLogger) DeliveryFailed(artifactID, recipient string, err error) {
	p.logger.Error("delivery_failed",
		slog.String("event_type", "delivery_failed"),
		slog.String("artifact_id", artifactID),
		slog.String("recipient", recipient),
		slog.Any("error", err),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// Event logs a generic triage event, dropping sensitive keys.
func (p *PipelineLogger) Event(eventType string, details map[string]string) {
	attrs := []any{
		slog.String("event_type", eventType),
		slog.Time("timestamp", time.Now().UTC()),
	}

	for k, v := range details {
		if isSensitiveKey(k) {
			continue
		}
		attrs = append(attrs, slog.String(k, v))
	}

	p.logger.Info("triage_event", attrs...)
}

// GetLogger returns the underlying slog.Logger.
func (p *PipelineLogger) GetLogger() *slog.Logger {
	return p.logger
}

// isSensitiveKey checks if a key might contain sensitive data.
func isSensitiveKey(key string) bool {
	sensitiveKeys := map[string]bool{
		"password":    true,
		"api_key":     true,
		"apikey":      true,
		"token":       true,
		"secret":      true,
		"credential":  true,
		"credentials": true,
		"body":        true,
		"body_text":   true,
		"body_html":   true,
	}
	return sensitiveKeys[strings.ToLower(key)]
}
