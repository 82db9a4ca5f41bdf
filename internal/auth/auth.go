// Package auth authenticates API callers with HS256 bearer tokens whose
// subject is the note owner's user id.
package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing bearer token")
)

// Config configures authentication.
type Config struct {
	JWTSecret   string
	Issuer      string
	TokenExpiry time.Duration
}

// Service validates and issues bearer tokens.
type Service struct {
	jwt *JWTService
}

// NewService constructs an auth service. Without a secret the service is
// disabled and every token is rejected.
func NewService(cfg Config) *Service {
	service := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.Issuer, cfg.TokenExpiry)
	}
	return service
}

// Enabled reports whether tokens can be validated.
func (s *Service) Enabled() bool {
	return s != nil && s.jwt != nil
}

// GenerateToken issues a signed token for userID.
func (s *Service) GenerateToken(userID string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(userID)
}

// ValidateToken returns the user id carried by token.
func (s *Service) ValidateToken(token string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}
