package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livequiz/auth"
)

// Auth verifies the bearer token and attaches the resulting identity to the
// request context. Requests without a valid identity are refused.
func Auth(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := gate.FromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set("identity", identity)
		c.Next()
	}
}

// RequireRole gates a route to one participant role. Must run after Auth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := Identity(c)
		if identity == nil || identity.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// Identity returns the identity attached by Auth, or nil.
func Identity(c *gin.Context) *auth.Identity {
	v, ok := c.Get("identity")
	if !ok {
		return nil
	}
	identity, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
