package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/looplight/llmauth/internal/config"
	"github.com/looplight/llmauth/sdk/access"
)

// AuthMiddleware authenticates broker clients through the access manager.
// Requests from localhost may bypass it, and with no providers configured
// all requests pass.
func AuthMiddleware(cfg *config.Config, manager *access.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AllowLocalhostUnauthenticated && isLoopback(c.ClientIP()) {
			c.Next()
			return
		}

		res, err := manager.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			if errors.Is(err, access.ErrNoCredentials) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		if res != nil {
			c.Set("apiKey", res.Principal)
		}
		c.Next()
	}
}

// brokerKeyGuard protects privileged endpoints. When a broker key is
// configured, the caller must present the matching plaintext; the stored
// value is a bcrypt hash.
func (s *Server) brokerKeyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.BrokerKey
		if secret == "" {
			c.Next()
			return
		}

		var provided string
		if ah := c.GetHeader("Authorization"); ah != "" {
			provided = ah
			if parts := strings.SplitN(ah, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				provided = parts[1]
			}
		}
		if provided == "" {
			provided = c.GetHeader("X-Broker-Key")
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing broker key"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(secret), []byte(provided)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid broker key"})
			return
		}
		c.Next()
	}
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}
