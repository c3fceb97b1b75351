package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/auth"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
	Role        string `json:"role"`
}

// POST /api/v1/auth/token
func (s *Server) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("AUTH_400", "Invalid request body", err))
		return
	}

	token, expiresAt, id, err := s.authService.IssueToken(req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("Token request with invalid API key", zap.String("client_ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid API key", nil))
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorFrom("AUTH_500", "Failed to issue token", err))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
		Role:        string(id.Role),
	})
}

// GET /api/v1/auth/me
func (s *Server) getCurrentKey(c *gin.Context) {
	perms, _ := c.Get("permissions")

	id, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"auth_enabled": false,
			"permissions":  perms,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auth_enabled": true,
		"key":          id.Name,
		"role":         id.Role,
		"permissions":  perms,
	})
}
