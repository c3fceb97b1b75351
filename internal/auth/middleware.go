package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiKeyHeader   = "X-API-Key"
	permissionsKey = "permissions"
	identityKey    = "identity"
)

// Middleware authenticates requests with a Bearer token or an X-API-Key
// header. With auth disabled every request gets all permissions.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enabled {
			c.Set(permissionsKey, RoleAdmin.Permissions())
			c.Next()
			return
		}

		token := c.GetHeader(apiKeyHeader)
		if token == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "missing authorization header",
				})
				c.Abort()
				return
			}

			// Extract token from "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "invalid authorization header format",
				})
				c.Abort()
				return
			}
			token = parts[1]
		}

		id, err := s.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(identityKey, id)
		c.Set(permissionsKey, id.Role.Permissions())
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(permissionsKey)
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "no permissions found",
			})
			c.Abort()
			return
		}

		permissions := perms.([]Permission)
		hasPermission := false
		for _, p := range permissions {
			if p == required {
				hasPermission = true
				break
			}
		}

		if !hasPermission {
			c.JSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": string(required),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetIdentity returns the authenticated caller, ok is false with auth
// disabled.
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
