package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jgirmay/pulse/pkg/auth"
	apperrors "github.com/jgirmay/pulse/pkg/errors"
)

// ContextUserID is the gin context key holding the authenticated user id
const ContextUserID = "user_id"

// accessTokenParam carries the token for websocket clients, which cannot set headers
const accessTokenParam = "access_token"

// AuthRequired validates the bearer token and stores its subject as the user id
func AuthRequired(tm *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims, err := tm.ValidateToken(token)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

// UserID returns the authenticated user id set by AuthRequired
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return c.Query(accessTokenParam)
}

func abortUnauthorized(c *gin.Context, message string) {
	appErr := apperrors.Unauthorized(message)
	c.Header("WWW-Authenticate", `Bearer realm="pulse"`)
	c.AbortWithStatusJSON(appErr.Status, appErr)
}
