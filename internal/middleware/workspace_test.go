package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emailez/backend/internal/auth"
)

type staticKeys map[string]uuid.UUID

func (k staticKeys) Authenticate(ctx context.Context, apiKey string) (uuid.UUID, error) {
	if ws, ok := k[apiKey]; ok {
		return ws, nil
	}
	return uuid.Nil, errors.New("unknown key")
}

func newAuthRouter(keys KeyAuthenticator, jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WorkspaceAuth(keys, jwtService))
	r.GET("/whoami", func(c *gin.Context) {
		ws, _ := WorkspaceID(c)
		c.String(http.StatusOK, ws.String())
	})
	return r
}

func TestWorkspaceAuth(t *testing.T) {
	ws := uuid.New()
	jwtService := auth.NewJWTService("secret", 1)
	token, err := jwtService.Generate(ws, "svc")
	require.NoError(t, err)
	r := newAuthRouter(staticKeys{"pfx.secret": ws}, jwtService)

	cases := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"api key", map[string]string{HeaderAPIKey: "pfx.secret"}, http.StatusOK},
		{"bad api key", map[string]string{HeaderAPIKey: "pfx.wrong"}, http.StatusUnauthorized},
		{"bearer token", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK},
		{"bad token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized},
		{"no credentials", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, ws.String(), w.Body.String())
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://app.example.com"))
	r.POST("/v1/emails", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	req := httptest.NewRequest(http.MethodOptions, "/v1/emails", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestCORSOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name, allowed, origin, wantOrigin, wantVary string
	}{
		{"listed origin echoed", "https://a.example.com, https://b.example.com", "https://b.example.com", "https://b.example.com", "Origin"},
		{"unlisted origin gets nothing", "https://a.example.com", "https://evil.example.com", "", ""},
		{"wildcard", "*", "https://any.example.com", "*", ""},
		{"empty config allows all", "", "https://any.example.com", "*", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tc.allowed))
			r.GET("/v1/emails", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/v1/emails", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.wantVary, w.Header().Get("Vary"))
			if tc.wantOrigin == "" {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Headers"))
			} else {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderAPIKey)
			}
		})
	}
}
