package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-phishtriage/internal/analysis"
	"github.com/welldanyogia/webrana-phishtriage/internal/api/response"
	apperrors "github.com/welldanyogia/webrana-phishtriage/internal/errors"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/storage"
)

// Analyzer runs the pipeline without delivering a reply.
type Analyzer interface {
	Analyze(ctx context.Context, a pipeline.Artifact) (*pipeline.Result, error)
}

// AnalyzeHandler scores a raw message submitted over HTTP. Nothing is sent
// and nothing is recorded.
type AnalyzeHandler struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewAnalyzeHandler creates a new AnalyzeHandler
func NewAnalyzeHandler(analyzer Analyzer, logger *slog.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeHandler{analyzer: analyzer, logger: logger}
}

// AnalyzeResponse is the body of a successful POST /api/analyze
type AnalyzeResponse struct {
	ArtifactID      string              `json:"artifact_id"`
	OriginalSender  string              `json:"original_sender"`
	ReporterAddress string              `json:"reporter_address,omitempty"`
	Subject         string              `json:"subject,omitempty"`
	Links           []string            `json:"links"`
	Attachments     []string            `json:"attachments"`
	DegradedLinks   []string            `json:"degraded_links,omitempty"`
	Assessment      analysis.Assessment `json:"assessment"`
	Reply           ReplyPreview        `json:"reply"`
}

// ReplyPreview is the reply that would have been sent.
type ReplyPreview struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Analyze handles POST /api/analyze
func (h *AnalyzeHandler) Analyze(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return response.TooLarge(c, "message exceeds the maximum artifact size")
		}
		return response.BadRequest(c, "failed to read request body")
	}
	if len(raw) == 0 {
		return response.BadRequest(c, "request body must contain a raw message")
	}
	if err := storage.ValidateSize(int64(len(raw))); err != nil {
		return response.TooLarge(c, "message exceeds the maximum artifact size")
	}

	artifact := pipeline.Artifact{ID: "api-" + uuid.New().String(), Raw: raw}
	res, err := h.analyzer.Analyze(c.Request().Context(), artifact)
	if err != nil {
		if apperrors.IsParse(err) {
			return response.Error(c, err)
		}
		h.logger.Error("analysis failed",
			slog.String("artifact_id", artifact.ID),
			slog.Any("error", err),
		)
		return response.InternalError(c, "failed to analyze message")
	}

	out := AnalyzeResponse{
		ArtifactID:      res.ArtifactID,
		OriginalSender:  res.Parsed.OriginalSender,
		ReporterAddress: res.Parsed.ReporterAddress,
		Subject:         res.Parsed.Subject,
		Links:           nonNil(res.Parsed.Links),
		Attachments:     nonNil(res.Parsed.AttachmentNames),
		DegradedLinks:   res.DegradedLinks,
		Assessment:      *res.Assessment,
	}
	if res.Reply != nil {
		out.Reply = ReplyPreview{Subject: res.Reply.Subject, Body: res.Reply.Body}
	}

	return response.Success(c, out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
