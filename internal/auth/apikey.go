package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// callerCtxKey is the Gin context key holding the authenticated caller.
const callerCtxKey = "caller"

// APIKeyMiddleware maps X-API-Key to a caller identity. User identity
// and role travel on the events themselves (supplied by the external
// auth service); the API key only authenticates the submitting client.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		caller, ok := keys[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(callerCtxKey, caller)
		c.Next()
	}
}

// Caller returns the authenticated caller from the request context.
func Caller(c *gin.Context) string {
	v, _ := c.Get(callerCtxKey)
	s, _ := v.(string)
	return s
}
