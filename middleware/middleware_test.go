package middleware_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicktrail/api/middleware"
	"clicktrail/api/utils"
)

var (
	secret  = []byte("test-secret")
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/who", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": middleware.UserID(c)})
	})
	return r
}

func token(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := utils.GenerateJWT(secret, userID, userID+"@example.com", ttl)
	require.NoError(t, err)
	return tok
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(middleware.AuthRequired(secret, "svc-key", discard))

	tests := []struct {
		name     string
		setup    func(req *http.Request)
		wantCode int
		wantBody string
	}{
		{
			name:     "no token",
			setup:    func(*http.Request) {},
			wantCode: http.StatusUnauthorized,
			wantBody: "No token provided",
		},
		{
			name:     "bearer token",
			setup:    func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token(t, "u1", time.Hour)) },
			wantCode: http.StatusOK,
			wantBody: `"user_id":"u1"`,
		},
		{
			name: "cookie token",
			setup: func(req *http.Request) {
				req.AddCookie(&http.Cookie{Name: "jwt_token", Value: token(t, "u2", time.Hour)})
			},
			wantCode: http.StatusOK,
			wantBody: `"user_id":"u2"`,
		},
		{
			name:     "expired token",
			setup:    func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token(t, "u1", -time.Minute)) },
			wantCode: http.StatusUnauthorized,
			wantBody: "Invalid or expired token",
		},
		{
			name: "api key acts for header user",
			setup: func(req *http.Request) {
				req.Header.Set("X-API-KEY", "svc-key")
				req.Header.Set(middleware.ServiceUserHeader, "u9")
			},
			wantCode: http.StatusOK,
			wantBody: `"user_id":"u9"`,
		},
		{
			name:     "wrong api key",
			setup:    func(req *http.Request) { req.Header.Set("X-API-KEY", "nope") },
			wantCode: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestEmptyAPIKeyNeverAuthenticates(t *testing.T) {
	r := newRouter(middleware.AuthRequired(secret, "", discard))
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("X-API-KEY", "")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEmptySecretRejectsForgedTokens(t *testing.T) {
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &utils.Claims{UserID: "attacker"}).SignedString([]byte{})
	require.NoError(t, err)

	for name, mw := range map[string]gin.HandlerFunc{
		"required": middleware.AuthRequired(nil, "svc-key", discard),
		"optional": middleware.AuthOptional(nil, discard),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			req.Header.Set("Authorization", "Bearer "+forged)
			w := httptest.NewRecorder()
			newRouter(mw).ServeHTTP(w, req)
			assert.NotContains(t, w.Body.String(), "attacker")
		})
	}
}

func TestServiceOnly(t *testing.T) {
	r := gin.New()
	r.Use(middleware.AuthRequired(secret, "svc-key", discard), middleware.ServiceOnly(discard))
	r.PUT("/tracking", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPut, "/tracking", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u1", time.Hour))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/tracking", nil)
	req.Header.Set("X-API-KEY", "svc-key")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthOptional(t *testing.T) {
	r := newRouter(middleware.AuthOptional(secret, discard))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":""}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":""}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "u3", time.Hour))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"user_id":"u3"}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(middleware.CORS("https://app.example"))
	req := httptest.NewRequest(http.MethodOptions, "/who", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSRejectsOtherOrigins(t *testing.T) {
	r := newRouter(middleware.CORS("https://app.example"))
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
