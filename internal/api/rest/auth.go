package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/VibeChessCore/internal/auth"
	"github.com/KevinKickass/VibeChessCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Login request/response types
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// POST /api/v1/auth/login
func (s *Server) login(c *gin.Context) {
	if s.deps.Auth == nil {
		respondError(c, types.CodeAuthDisabled, "Authentication not enabled", nil)
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, types.CodeAuthInvalid, "Invalid request body", err.Error())
		return
	}

	res, err := s.deps.Auth.Login(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Error("Login failed", zap.Error(err))
		}
		respondError(c, types.CodeAuthRejected, "Invalid credentials", nil)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   res.ExpiresIn,
	})
}
