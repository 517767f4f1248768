package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/VibeChessCore/internal/types"
	"github.com/gin-gonic/gin"
)

// Context keys set by Middleware.
const (
	ContextUsername = "username"
	ContextRole     = "role"
)

// Middleware validates bearer tokens and enforces authentication
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeAuthRejected, "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeAuthRejected, "invalid authorization header format", nil))
			return
		}

		claims, err := s.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(types.CodeAuthRejected, "invalid or expired token", nil))
			return
		}

		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}
