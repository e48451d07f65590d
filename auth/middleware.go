package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/insurge/chatd/internal/slogging"
)

const (
	// ClaimsContextKey is the gin context key for the validated JWT claims
	ClaimsContextKey = "auth_claims"
	// UserIDContextKey is the gin context key for the authenticated user id
	UserIDContextKey = "auth_user_id"
)

// Middleware provides authentication middleware for Gin
type Middleware struct {
	service *Service
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// AuthRequired rejects requests without a valid Bearer token and stashes
// the claims and user id on the gin context.
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := slogging.Get()

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("Authentication failed: missing authorization header client_ip=%v", c.ClientIP())
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			logger.Warn("Authentication failed: malformed authorization header client_ip=%v", c.ClientIP())
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header format must be Bearer {token}",
			})
			return
		}

		claims, err := m.service.ValidateToken(parts[1])
		if err != nil {
			logger.Warn("Authentication failed: token validation error client_ip=%v error=%v", c.ClientIP(), err)
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ClaimsContextKey, claims)
		c.Set(UserIDContextKey, claims.UserID)
		c.Next()
	}
}

// UserIDFromContext returns the authenticated user id set by AuthRequired
func UserIDFromContext(c *gin.Context) (int64, error) {
	v, ok := c.Get(UserIDContextKey)
	if !ok {
		return 0, errors.New("user id not found in context")
	}
	id, ok := v.(int64)
	if !ok {
		return 0, errors.New("user id has unexpected type")
	}
	return id, nil
}

// ClaimsFromContext returns the JWT claims set by AuthRequired
func ClaimsFromContext(c *gin.Context) (*Claims, error) {
	v, ok := c.Get(ClaimsContextKey)
	if !ok {
		return nil, errors.New("claims not found in context")
	}
	claims, ok := v.(*Claims)
	if !ok {
		return nil, errors.New("claims have unexpected type")
	}
	return claims, nil
}
