package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-phishtriage/internal/database"
	"gorm.io/gorm"
)

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	db *gorm.DB
	// features reports which optional intake paths are running.
	features map[string]bool
}

// NewHealthHandler creates a new HealthHandler. features is reported as-is
// under "intake" and may be nil.
func NewHealthHandler(db *gorm.DB, features map[string]bool) *HealthHandler {
	return &HealthHandler{db: db, features: features}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Intake   map[string]bool   `json:"intake,omitempty"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	services := map[string]string{"database": "healthy"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := database.Ping(h.db); err != nil {
		services["database"] = "unhealthy"
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, HealthResponse{
		Status:   status,
		Services: services,
		Intake:   h.features,
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c echo.Context) error {
	if err := database.Ping(h.db); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}
