// Package server implements C9: the gin-based client API and admin surface.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lofyer/warp-multiproxy-go/internal/config"
	"github.com/lofyer/warp-multiproxy-go/internal/logging"
)

// CORSMiddleware allows any origin; the proxy has no browser-facing
// session state worth protecting behind a same-origin policy.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// APIKeyAuthMiddleware validates the bearer/X-API-Key header against
// cfg.APIKey for every /v1/* route; a blank APIKey disables auth entirely.
func APIKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" {
			c.Next()
			return
		}

		var provided string
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		} else if key := c.GetHeader("X-API-Key"); key != "" {
			provided = key
		}

		if provided == "" || provided != cfg.APIKey {
			logging.L().Warn().Str("client_ip", c.ClientIP()).Msg("rejected request with invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "Invalid or missing API key", "type": "authentication_error", "code": "invalid_api_key"},
			})
			return
		}
		c.Next()
	}
}

// RequestLoggingMiddleware logs every request's method, path, status, and
// latency through the ambient structured logger.
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		ev := logging.L().Info()
		if status >= 500 {
			ev = logging.L().Error()
		} else if status >= 400 {
			ev = logging.L().Warn()
		}
		ev.Str("method", method).Str("path", path).Int("status", status).Dur("elapsed", elapsed).Msg("request")
	}
}
