package service

import (
	"errors"
	"time"

	"policy-rag-go/pkg/hash"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/token"
)

// ErrInvalidCredentials is returned for a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService logs in the configured operator account.
type AuthService interface {
	Login(username, password string) (accessToken string, expiresAt time.Time, err error)
}

type authService struct {
	username     string
	passwordHash string
	jwtManager   *token.JWTManager
}

// NewAuthService creates an AuthService for a single operator whose
// password is stored as a bcrypt hash.
func NewAuthService(username, passwordHash string, jwtManager *token.JWTManager) AuthService {
	return &authService{username: username, passwordHash: passwordHash, jwtManager: jwtManager}
}

func (s *authService) Login(username, password string) (string, time.Time, error) {
	if s.username == "" || s.passwordHash == "" {
		log.Warnf("[AuthService] login attempted but no operator account is configured")
		return "", time.Time{}, ErrInvalidCredentials
	}
	if username != s.username || !hash.CheckPasswordHash(password, s.passwordHash) {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.jwtManager.GenerateToken(username)
}
