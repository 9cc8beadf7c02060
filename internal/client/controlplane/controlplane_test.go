package controlplane

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/internal/client/config"
)

func newTestRoutes(t *testing.T, token string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Email = "user@example.com"
	return SetupRoutes(&CPServerConfig{AuthToken: token}, cfg, nil)
}

func TestIndexIsOpen(t *testing.T) {
	routes := newTestRoutes(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ConfSync")
}

func TestTokenAuthGuardsV1(t *testing.T) {
	routes := newTestRoutes(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// the query form serves curl one-liners
	req = httptest.NewRequest(http.MethodGet, "/v1/status?token=secret", nil)
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestEmptyTokenRunsOpen(t *testing.T) {
	routes := newTestRoutes(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestHandlersReportNotReadyWithoutManager(t *testing.T) {
	routes := newTestRoutes(t, "")

	paths := []string{"/v1/status", "/v1/sync/status", "/v1/conflicts", "/v1/transfers"}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Contains(t, w.Body.String(), ErrCodeNotReady, path)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	routes := newTestRoutes(t, "")

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/status", nil)
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
