package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGinMiddleware(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	labels := prometheus.Labels{"method": "GET", "path": "/ping", "status": "204"}
	before := testutil.ToFloat64(HttpRequestsTotal.With(labels))

	// Act
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	// Assert
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(HttpRequestsTotal.With(labels)))
}

func TestGinMiddleware_UnmatchedPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())

	labels := prometheus.Labels{"method": "GET", "path": "unmatched", "status": "404"}
	before := testutil.ToFloat64(HttpRequestsTotal.With(labels))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/does-not-exist/123", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(HttpRequestsTotal.With(labels)))
}
