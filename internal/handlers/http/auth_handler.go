package http

import (
	"net/http"
	"strings"
	"time"

	"memberdash/internal/core/services"
	"memberdash/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService  services.AuthService
	secureCookie bool
}

func NewAuthHandler(authService services.AuthService, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		secureCookie: secureCookie,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/login", h.Login)
		api.POST("/logout", h.Logout)
		api.GET("/session", h.Session)
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,max=254"`
	Password string `json:"password" binding:"required,max=128"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(validationError(err))
		return
	}

	tokens, session, err := h.authService.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		c.Error(err)
		return
	}

	maxAge := tokens.ExpiresIn
	if maxAge <= 0 {
		maxAge = int(time.Until(session.ExpiresAt).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, tokens.AccessToken, maxAge, "/", "", h.secureCookie, true)

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_in":    maxAge,
		"user": gin.H{
			"id":     session.UserID,
			"email":  session.Email,
			"role":   session.Role,
			"status": session.Status,
		},
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", h.secureCookie, true)
	c.Status(http.StatusNoContent)
}

// Session reports who the request is running as. Anonymous is a valid answer.
func (h *AuthHandler) Session(c *gin.Context) {
	session := middleware.SessionFromContext(c)
	if session.IsAnonymous() {
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"role":          session.EffectiveRole(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user_id":       session.UserID,
		"email":         session.Email,
		"role":          session.Role,
		"status":        session.Status,
		"expires_at":    session.ExpiresAt,
	})
}
