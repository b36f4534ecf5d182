package handlers

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-phishtriage/internal/api/response"
	"github.com/welldanyogia/webrana-phishtriage/internal/poller"
)

// Poller runs one pass over the reporting mailbox.
type Poller interface {
	RunOnce(ctx context.Context) (poller.Summary, error)
}

// PollHandler lets an operator trigger a mailbox pass without waiting for
// the next tick.
type PollHandler struct {
	poller Poller
	logger *slog.Logger
}

// NewPollHandler creates a new PollHandler
func NewPollHandler(p Poller, logger *slog.Logger) *PollHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollHandler{poller: p, logger: logger}
}

// Poll handles POST /api/poll
func (h *PollHandler) Poll(c echo.Context) error {
	summary, err := h.poller.RunOnce(c.Request().Context())
	if err != nil {
		h.logger.Error("manual poll failed", slog.Any("error", err))
		return response.InternalError(c, "mailbox poll failed")
	}
	return response.Success(c, summary)
}
