package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func get(r http.Handler, target string, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestCronSecretRequired(t *testing.T) {
	open := newEngine(CronSecretRequired(""))
	assert.Equal(t, http.StatusOK, get(open, "/", nil))

	guarded := newEngine(CronSecretRequired("s3"))
	assert.Equal(t, http.StatusUnauthorized, get(guarded, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, get(guarded, "/?secret=s4", nil))
	assert.Equal(t, http.StatusUnauthorized, get(guarded, "/", map[string]string{"Authorization": "Basic s3"}))
	assert.Equal(t, http.StatusOK, get(guarded, "/?secret=s3", nil))
	assert.Equal(t, http.StatusOK, get(guarded, "/", map[string]string{"Authorization": "bearer s3"}))
}

func TestRateLimitPerIP(t *testing.T) {
	r := newEngine(RateLimitMiddleware(1))

	a := map[string]string{"X-Forwarded-For": "203.0.113.1"}
	b := map[string]string{"X-Forwarded-For": "203.0.113.2"}
	assert.Equal(t, http.StatusOK, get(r, "/", a))
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/", a))
	assert.Equal(t, http.StatusOK, get(r, "/", b))
}
