package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// RoleOperator is the only role; it may submit commands and read status.
const RoleOperator = "operator"

// Service authenticates the single configured operator account.
type Service struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	username       string
	passwordHash   string
	logger         *zap.Logger
}

func NewService(cfg config.AuthConfig, logger *zap.Logger) (*Service, error) {
	if cfg.Username == "" || cfg.PasswordHash == "" {
		return nil, fmt.Errorf("auth enabled but username or password_hash not configured")
	}
	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready",
			zap.String("env", cfg.JWTSecretEnv))
	}

	return &Service{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		username:       cfg.Username,
		passwordHash:   cfg.PasswordHash,
		logger:         logger,
	}, nil
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

// Login checks the operator credentials and issues an access token.
func (s *Service) Login(ctx context.Context, username, password, ipAddress string) (*LoginResult, error) {
	if username != s.username {
		s.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "unknown user"))
		return nil, ErrInvalidCredentials
	}

	valid, err := s.passwordHasher.VerifyPassword(password, s.passwordHash)
	if err != nil {
		s.logger.Error("Stored password hash unusable", zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !valid {
		s.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "invalid password"))
		return nil, ErrInvalidCredentials
	}

	token, _, err := s.jwtHandler.GenerateAccessToken(userID(username), username, RoleOperator)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	s.logger.Info("Operator logged in", zap.String("username", username), zap.String("ip", ipAddress))
	return &LoginResult{
		AccessToken: token,
		ExpiresIn:   int64(s.jwtHandler.accessTokenTTL.Seconds()),
		Username:    username,
		Role:        RoleOperator,
	}, nil
}

// ValidateToken validates an access token.
func (s *Service) ValidateToken(token string) (*JWTClaims, error) {
	return s.jwtHandler.ValidateAccessToken(token)
}

// userID is stable per username so tokens survive restarts.
func userID(username string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("vibechess:"+username))
}
