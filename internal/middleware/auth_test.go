package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseTokenValid(t *testing.T) {
	raw := sign(t, jwt.MapClaims{
		"sub":   "user-1",
		"name":  "Ana",
		"email": "ana@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	session, err := ParseToken(raw, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "Ana", session.DisplayName)
	assert.Equal(t, "ana@example.com", session.Email)
}

func TestParseTokenWrongSecret(t *testing.T) {
	raw := sign(t, jwt.MapClaims{"sub": "user-1"}, "other-secret")
	_, err := ParseToken(raw, testSecret)
	assert.Error(t, err)
}

func TestParseTokenExpired(t *testing.T) {
	raw := sign(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testSecret)
	_, err := ParseToken(raw, testSecret)
	assert.Error(t, err)
}

func TestParseTokenMissingSubject(t *testing.T) {
	raw := sign(t, jwt.MapClaims{"name": "Ana"}, testSecret)
	_, err := ParseToken(raw, testSecret)
	assert.Error(t, err)
}

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(testSecret))
	r.GET("/protected", func(c *gin.Context) {
		session := SessionFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": session.UserID})
	})
	return r
}

func TestAuthMiddlewareAllowsValidToken(t *testing.T) {
	router := setupAuthRouter()
	raw := sign(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user-1")
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	router := setupAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
