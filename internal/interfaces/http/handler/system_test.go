package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping() error { return p.err }

func newSystemRouter(db Pinger) *gin.Engine {
	r := gin.New()
	NewSystemHandler(db).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestSystemPing(t *testing.T) {
	router := newSystemRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestSystemInfo(t *testing.T) {
	router := newSystemRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/info", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_version")
}

func TestSystemReady(t *testing.T) {
	t.Run("database reachable", func(t *testing.T) {
		router := newSystemRouter(&fakePinger{})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("database down", func(t *testing.T) {
		router := newSystemRouter(&fakePinger{err: errors.New("connection refused")})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
