package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/log"
)

// AuthHandler issues operator tokens.
type AuthHandler struct {
	authService service.AuthService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// LoginRequest is the body of POST /api/v1/auth/token.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges operator credentials for a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "username and password are required")
		return
	}
	accessToken, expiresAt, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: failed for %s: %v", req.Username, err)
		fail(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	log.Infof("Login: token issued to %s", req.Username)
	ok(c, "login succeeded", gin.H{"token": accessToken, "expiresAt": expiresAt})
}
