package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serveHealth(t *testing.T, checks map[string]func(context.Context) error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/healthz", NewHealthHandler("tiendabot", checks).Check)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	return rec
}

func TestHealthzAllDependenciesUp(t *testing.T) {
	ok := func(context.Context) error { return nil }
	rec := serveHealth(t, map[string]func(context.Context) error{
		"mysql": ok, "redis": ok, "rabbitmq": ok,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"mysql":"up"`)
	assert.Contains(t, rec.Body.String(), `"redis":"up"`)
	assert.Contains(t, rec.Body.String(), `"rabbitmq":"up"`)
}

func TestHealthzDegradedWhenDependencyDown(t *testing.T) {
	rec := serveHealth(t, map[string]func(context.Context) error{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
	assert.Contains(t, rec.Body.String(), `"mysql":"up"`)
}
