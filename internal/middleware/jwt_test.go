package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/backend/internal/auth"
)

func newAuthRouter(t *testing.T, svc *auth.JWTService) (*gin.Engine, *uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var seen uuid.UUID
	r := gin.New()
	r.GET("/protected", JWT(svc), func(c *gin.Context) {
		seen = UserID(c)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestJWTMiddleware(t *testing.T) {
	svc := auth.NewJWTService("test-secret", 24)
	r, seen := newAuthRouter(t, svc)
	userID := uuid.New()
	token, err := svc.Generate(userID, "u@example.com")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, *seen, "claims flow into the request context")
}

func TestJWTMiddlewareRejects(t *testing.T) {
	svc := auth.NewJWTService("test-secret", 24)
	r, _ := newAuthRouter(t, svc)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"bad token":      "Bearer not.a.token",
	}
	for name, header := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
}

func TestUserIDUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, uuid.Nil, UserID(c))
}
