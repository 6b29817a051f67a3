// Package api exposes the scan pipeline over HTTP and websockets.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/auth"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/bridge"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/fanout"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/history"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/httpmiddleware"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/logging"
	"github.com/3nitheactivist/nfc-tracking-systemV2-sub001/internal/station"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) bool

// Deps are the components the router serves.
type Deps struct {
	Hub      *fanout.Hub
	Station  *station.Station
	History  *history.Aggregator
	Bridge   *bridge.Controller
	Devices  *auth.Registry
	Signer   *auth.Signer
	Scans    bridge.Publisher
	Gatherer prometheus.Gatherer
	Checks   map[string]Check
	Limiter  *httpmiddleware.TokenBucket
	Origins  []string
	Logger   *slog.Logger

	// BootstrapKey admits operator registration without a token. Empty
	// means only existing operators can register new ones.
	BootstrapKey string
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	d.Logger = logging.OrDiscard(d.Logger)
	h := &handlers{deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(d.Origins)))
	r.Use(securityHeaders())
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware(nil))
	}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", h.health)
	r.GET("/ws/scans", gin.WrapF(d.Hub.ServeWS))

	r.POST("/v1/devices/register", h.registerDevice)
	r.POST("/v1/devices/refresh", h.refreshDevice)
	r.POST("/v1/operators/register", auth.OperatorOrBootstrap(d.Signer, d.BootstrapKey), h.registerOperator)

	v1 := r.Group("/v1", auth.DeviceAuth(d.Signer))
	v1.POST("/scans", auth.RequireRole(auth.RoleDevice), h.ingestScan)
	v1.POST("/sessions/:id/scans", h.sessionScan)
	v1.POST("/stations/listen", h.listen)
	v1.GET("/subjects/:id/history", h.history)

	admin := v1.Group("/bridge", auth.RequireRole(auth.RoleOperator))
	admin.GET("", h.bridgeStatus)
	admin.POST("", h.bridgeToggle)
	admin.POST("/start", h.bridgeStart)
	admin.POST("/stop", h.bridgeStop)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", auth.BootstrapHeader},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger, skip ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if slices.Contains(skip, c.Request.URL.Path) {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		logger.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
