package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/x402arcade/backend/internal/config"
	"github.com/x402arcade/backend/internal/payment"
)

// AllowedOrigins returns the browser origins allowed for the environment.
func AllowedOrigins(cfg *config.Config) []string {
	if cfg.Environment == "development" {
		origins := []string{
			"http://localhost:5173", // Vite dev server
			"http://127.0.0.1:5173",
		}
		if cfg.FrontendURL != "" && !contains(origins, cfg.FrontendURL) {
			origins = append(origins, cfg.FrontendURL)
		}
		return origins
	}

	var origins []string
	for _, o := range strings.Split(cfg.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// CORSMiddleware returns a CORS middleware configured for the environment
func CORSMiddleware(cfg *config.Config, log logrus.FieldLogger) gin.HandlerFunc {
	origins := AllowedOrigins(cfg)
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"origins":     origins,
	}).Info("CORS configured")

	corsConfig := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Length", "Content-Type", "Authorization",
			payment.HeaderName, "Accept", "Cache-Control", "X-Requested-With", RequestIDHeader,
		},
		ExposeHeaders: []string{
			"Content-Length", payment.ResponseHeaderName, "Retry-After", RequestIDHeader,
		},
		MaxAge: 12 * time.Hour, // Cache preflight responses
	}

	if len(origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}

	return cors.New(corsConfig)
}

// WebSocketCORSCheck validates WebSocket upgrade origins
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	origins := AllowedOrigins(cfg)
	return func(c *gin.Context) {
		// Only check for WebSocket upgrade requests
		if !strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade") ||
			strings.ToLower(c.GetHeader("Upgrade")) != "websocket" {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" || len(origins) == 0 {
			c.Next()
			return
		}

		allowed := contains(origins, origin)
		if cfg.Environment == "development" {
			allowed = allowed || strings.HasPrefix(origin, "http://localhost:") ||
				strings.HasPrefix(origin, "http://127.0.0.1:")
		}

		if !allowed {
			c.AbortWithStatusJSON(403, gin.H{"error": "WebSocket origin not allowed", "code": "ORIGIN_NOT_ALLOWED"})
			return
		}

		c.Next()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
