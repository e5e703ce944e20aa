package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// ProbeAuthenticator resolves a fleet token to its probe.
type ProbeAuthenticator interface {
	Authenticate(token string) (*db.Probe, error)
}

// ProbeAuth authenticates the agent endpoints with a probe_ bearer token.
// The raw token stays in context because result submission re-checks job
// ownership with it.
func ProbeAuth(probes ProbeAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			c.Abort()
			return
		}

		probe, err := probes.Authenticate(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid probe token"})
			c.Abort()
			return
		}

		c.Set("probe", probe)
		c.Set("probe_token", tokenString)
		c.Next()
	}
}
