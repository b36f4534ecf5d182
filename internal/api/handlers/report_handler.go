package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-phishtriage/internal/analysis"
	"github.com/welldanyogia/webrana-phishtriage/internal/api/response"
	"github.com/welldanyogia/webrana-phishtriage/internal/models"
	"github.com/welldanyogia/webrana-phishtriage/internal/pipeline"
	"github.com/welldanyogia/webrana-phishtriage/internal/repository"
)

// ReportHandler serves the recorded triage reports
type ReportHandler struct {
	repo repository.ReportRepository
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(repo repository.ReportRepository) *ReportHandler {
	return &ReportHandler{repo: repo}
}

// Stats is the body of GET /api/reports/stats
type Stats struct {
	Total     int64            `json:"total"`
	ByLevel   map[string]int64 `json:"by_level"`
	ByOutcome map[string]int64 `json:"by_outcome"`
}

var knownOutcomes = map[string]bool{
	string(pipeline.OutcomeResponded):      true,
	string(pipeline.OutcomeSkipped):        true,
	string(pipeline.OutcomeFailed):         true,
	string(pipeline.OutcomeDeliveryFailed): true,
}

// List handles GET /api/reports
func (h *ReportHandler) List(c echo.Context) error {
	limit, offset, err := pagination(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	filter := models.ReportFilter{
		Source:         strings.ToLower(c.QueryParam("source")),
		OriginalSender: strings.TrimSpace(c.QueryParam("sender")),
	}

	if l := c.QueryParam("threat_level"); l != "" {
		level, ok := analysis.ParseThreatLevel(l)
		if !ok {
			return response.BadRequest(c, "threat_level must be low, medium or high")
		}
		filter.ThreatLevel = string(level)
	}
	if o := strings.ToLower(c.QueryParam("outcome")); o != "" {
		if !knownOutcomes[o] {
			return response.BadRequest(c, "unknown outcome")
		}
		filter.Outcome = o
	}
	if filter.Source != "" && filter.Source != models.SourceIMAP && filter.Source != models.SourceSMTP {
		return response.BadRequest(c, "source must be imap or smtp")
	}

	reports, total, err := h.repo.List(c.Request().Context(), filter, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list reports")
	}

	return response.Paginated(c, reports, total, limit, offset)
}

// Get handles GET /api/reports/:id
func (h *ReportHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "invalid report ID")
	}

	report, err := h.repo.GetByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "report not found")
		}
		return response.InternalError(c, "failed to get report")
	}

	return response.Success(c, report)
}

// Stats handles GET /api/reports/stats
func (h *ReportHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	byLevel, err := h.repo.CountByLevel(ctx)
	if err != nil {
		return response.InternalError(c, "failed to count reports")
	}
	byOutcome, err := h.repo.CountByOutcome(ctx)
	if err != nil {
		return response.InternalError(c, "failed to count reports")
	}

	stats := Stats{ByLevel: byLevel, ByOutcome: byOutcome}
	if stats.ByLevel == nil {
		stats.ByLevel = make(map[string]int64)
	}
	for _, n := range byOutcome {
		stats.Total += n
	}
	for _, l := range []analysis.ThreatLevel{analysis.LevelLow, analysis.LevelMedium, analysis.LevelHigh} {
		if _, ok := stats.ByLevel[string(l)]; !ok {
			stats.ByLevel[string(l)] = 0
		}
	}

	return response.Success(c, stats)
}
