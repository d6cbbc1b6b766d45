// Package api is the HTTP surface of the warden daemon.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/filewarden/internal/health"
	"github.com/jmerrifield20/filewarden/internal/metrics"
	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds request bodies, uploads included.
const DefaultMaxBodyBytes = 32 << 20

// RouterConfig holds the middleware settings of the HTTP router.
type RouterConfig struct {
	CORSOrigins  []string
	RateLimitRPS int // 0 disables rate limiting
	MaxBodyBytes int64
	Health       *health.Checker // nil serves a static /healthz
}

// Registrar mounts a group of routes.
type Registrar interface {
	Register(rg *gin.RouterGroup)
}

// NewRouter builds the gin engine: recovery, CORS, security headers, body
// limit, rate limiting, request logging and metrics, then /healthz, /metrics
// and every registrar under /api/v1. ctx bounds background middleware work.
func NewRouter(ctx context.Context, cfg RouterConfig, logger *zap.Logger, handlers ...Registrar) *gin.Engine {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodyBytes)
		c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitRPS*2, "/healthz", "/metrics"))
	}

	router.Use(RequestLogger(logger))
	router.Use(metrics.PrometheusMiddleware())

	router.GET("/healthz", healthz(cfg.Health))
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	for _, h := range handlers {
		h.Register(v1)
	}
	return router
}

// healthz reports the checker's last results: 200 when every component is
// healthy, 503 otherwise.
func healthz(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		st := checker.Status()
		code := http.StatusOK
		if !st.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	}
}

// RequestLogger returns a Gin middleware that logs each request with zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
