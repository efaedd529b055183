package middleware

import (
	"strings"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/services"
	"memberdash/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	sessionKey = "session"

	// AccessTokenCookie is read when no Authorization header is sent.
	AccessTokenCookie = "memberdash-access-token"
)

// AuthMiddleware resolves the caller's session. A missing or invalid token
// gives an anonymous session; handlers decide what that may do.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := authService.ReadSession(bearerToken(c))
		c.Set(sessionKey, session)

		if !session.IsAnonymous() {
			c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(session.UserID)))
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil {
		return cookie
	}
	return ""
}

// SessionFromContext returns the session AuthMiddleware stored, or an
// anonymous one.
func SessionFromContext(c *gin.Context) *domain.Session {
	if v, ok := c.Get(sessionKey); ok {
		if session, ok := v.(*domain.Session); ok && session != nil {
			return session
		}
	}
	return domain.AnonymousSession()
}
