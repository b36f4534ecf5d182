package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func preflight(e *echo.Echo, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/reports", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newCORSServer(origins []string, env string) *echo.Echo {
	e := echo.New()
	e.Use(SecureCORS(origins, env))
	e.GET("/api/reports", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestSecureCORS_AllowsConfiguredOrigin(t *testing.T) {
	e := newCORSServer([]string{"https://dash.example"}, "development")

	rec := preflight(e, "https://dash.example")

	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecureCORS_RejectsOtherOrigin(t *testing.T) {
	e := newCORSServer([]string{"https://dash.example"}, "development")

	rec := preflight(e, "https://evil.example")

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecureCORS_DefaultsToLocalhost(t *testing.T) {
	e := newCORSServer(nil, "development")

	rec := preflight(e, "http://localhost:3000")

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecureCORS_WildcardDroppedInProduction(t *testing.T) {
	e := newCORSServer([]string{"*"}, "production")

	rec := preflight(e, "https://anyone.example")

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
