package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTMiddleware(secret, audience, zap.NewNop()))
	router.GET("/whoami", func(c *gin.Context) {
		userID, _ := UserID(c.Request.Context())
		c.String(http.StatusOK, userID)
	})
	return router
}

func signToken(t *testing.T, claims jwt.RegisteredClaims, method jwt.SigningMethod) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func call(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareInjectsSubject(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)

	resp := call(newRouter(testSecret, ""), "Bearer "+token)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp.Body.String() != "user-42" {
		t.Fatalf("expected subject in context, got %q", resp.Body.String())
	}
}

func TestJWTMiddlewareRejections(t *testing.T) {
	expired := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}, jwt.SigningMethodHS256)
	noSubject := signToken(t, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)
	wrongAudience := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, jwt.SigningMethodHS256)

	cases := map[string]struct {
		router *gin.Engine
		header string
	}{
		"missing header": {newRouter(testSecret, ""), ""},
		"wrong scheme":   {newRouter(testSecret, ""), "Basic abc"},
		"empty token":    {newRouter(testSecret, ""), "Bearer  "},
		"garbage token":  {newRouter(testSecret, ""), "Bearer not-a-jwt"},
		"expired":        {newRouter(testSecret, ""), "Bearer " + expired},
		"no subject":     {newRouter(testSecret, ""), "Bearer " + noSubject},
		"audience":       {newRouter(testSecret, "selfie-capture"), "Bearer " + wrongAudience},
		"no secret":      {newRouter("", ""), "Bearer " + noSubject},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if resp := call(tc.router, tc.header); resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestUserIDMissing(t *testing.T) {
	if _, ok := UserID(context.Background()); ok {
		t.Fatalf("expected no user in empty context")
	}
	if got, ok := UserID(WithUserID(context.Background(), "u")); !ok || got != "u" {
		t.Fatalf("expected stored user, got %q", got)
	}
}
