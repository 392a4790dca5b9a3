package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-school/backend/pkg/response"
)

// OperatorKey returns a middleware that guards operator endpoints with a
// bearer API key checked against its bcrypt hash. An empty hash locks the
// endpoints entirely rather than leaving them open.
func OperatorKey(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			response.Forbidden(c, "operator access not configured")
			c.Abort()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(parts[1])); err != nil {
			response.Unauthorized(c, "invalid operator key")
			c.Abort()
			return
		}
		c.Next()
	}
}
