package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig returns the configuration for host pages calling
// the session API. The wildcard here covers the REST surface only; the
// isolation bridge enforces its own per-session origin allowlist and is
// never affected by CORS settings.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
		},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}

// CORS creates a CORS middleware with the provided configuration.
// Credentials are force-disabled under a wildcard origin; browsers
// reject that combination anyway.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	allowCredentials := cfg.AllowCredentials
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			allowCredentials = false
		}
	}
	return cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     cfg.AllowMethods,
		AllowHeaders:     cfg.AllowHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}
