package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tiendabot/internal/pkg/jwtutil"
	"tiendabot/internal/transport/http/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// JWTAuth guards the management API. Tokens go in the Authorization header
// as "Bearer <token>".
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Fail(c, http.StatusUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			response.Fail(c, http.StatusUnauthorized, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseToken(secret, tokenString)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}
