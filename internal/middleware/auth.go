package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Session holds the identity claims of the authenticated user.
type Session struct {
	UserID      string
	DisplayName string
	Email       string
}

// ParseToken validates an HMAC-signed session token and extracts the
// identity claims.
func ParseToken(tokenString, secret string) (Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Session{}, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, errors.New("invalid token claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return Session{}, errors.New("invalid token: missing subject")
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	return Session{UserID: userID, DisplayName: name, Email: email}, nil
}

// Auth validates the Authorization header and stores the session on
// the request context.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		session, err := ParseToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("session", session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by Auth.
func SessionFromContext(c *gin.Context) Session {
	if val, ok := c.Get("session"); ok {
		if session, ok := val.(Session); ok {
			return session
		}
	}
	return Session{}
}
