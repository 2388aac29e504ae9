// internal/api/auth_middleware.go
package api

import (
	"strings"
	"time"

	"github.com/Corphon/ShelfTalk/internal/auth"
	"github.com/Corphon/ShelfTalk/internal/models"
	"github.com/Corphon/ShelfTalk/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	identityKey     = "identity"
	authErrorKey    = "auth_error"
	tokenQueryParam = "token"
	minSecretLength = 32
	tokenLifetime   = 24 * time.Hour
	bearerPrefix    = "Bearer "
)

// NewTokenConfig builds the token settings from a shared secret. An empty
// secret yields nil and every caller is treated as a guest.
func NewTokenConfig(secret string) *auth.TokenConfig {
	if secret == "" {
		return nil
	}
	if len(secret) < minSecretLength {
		utils.GetLogger().Warn("AUTH_SECRET is shorter than 32 bytes", nil)
	}
	return &auth.TokenConfig{Secret: []byte(secret), Expiration: tokenLifetime}
}

// AuthMiddleware resolves the caller's identity from a bearer token. Missing
// or invalid tokens downgrade the caller to a guest; handlers that write
// require an identity through RequireIdentity.
func AuthMiddleware(tokens *auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, models.Identity{})

		token := bearerToken(c)
		if token == "" || tokens == nil {
			c.Next()
			return
		}

		claims, err := auth.ParseToken(token, tokens)
		if err != nil {
			utils.GetLogger().Debug("invalid token, continuing as guest", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			c.Set(authErrorKey, err.Error())
			c.Next()
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// bearerToken reads the Authorization header, or the token query parameter
// for websocket upgrades where browsers cannot set headers.
func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	return strings.TrimSpace(c.Query(tokenQueryParam))
}

// IdentityFromContext returns the caller's identity; guests have an empty
// UserID.
func IdentityFromContext(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Identity{}
}

// RequireIdentity rejects guests with 401.
func RequireIdentity() gin.HandlerFunc {
	rh := NewResponseHelper()
	return func(c *gin.Context) {
		if IdentityFromContext(c).IsGuest() {
			message := "Authentication required"
			if reason := c.GetString(authErrorKey); reason != "" {
				message = "Invalid or expired token"
			}
			rh.Unauthorized(c, message)
			c.Abort()
			return
		}
		c.Next()
	}
}
