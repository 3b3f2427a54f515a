// Package router assembles the gin engine of the operations HTTP server.
package router

import (
	"net/http"

	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/interfaces/http/handler"
	"github.com/erp/reconciler/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Config holds engine level settings
type Config struct {
	Mode           string
	ServiceName    string
	Tracing        bool
	MaxBodyBytes   int64
	TrustedProxies []string
}

// DefaultConfig returns the router defaults
func DefaultConfig() Config {
	return Config{
		Mode:         gin.ReleaseMode,
		ServiceName:  "stripe-reconciler",
		MaxBodyBytes: 64 << 10,
	}
}

// Deps are the handlers and health checks mounted on the engine
type Deps struct {
	Health     *handler.HealthHandler
	Metrics    http.Handler
	Observer   middleware.RequestObserver
	Operator   middleware.TokenValidator // nil leaves mutation routes open
	Registrars []RouteRegistrar
	Logger     *zap.Logger
	APIPrefix  string
}

// New builds the engine: health checks and /metrics at the root, everything else under
// the versioned API prefix.
func New(cfg Config, deps Deps) (*gin.Engine, error) {
	gin.SetMode(cfg.Mode)

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(logger.Recovery(deps.Logger))
	engine.Use(logger.GinMiddleware(deps.Logger))
	if deps.Observer != nil {
		engine.Use(middleware.Metrics(deps.Observer))
	}
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.ServiceName,
		Enabled:     cfg.Tracing,
	})...)

	if deps.Health != nil {
		engine.GET("/healthz", deps.Health.Liveness)
		engine.GET("/readyz", deps.Health.Readiness)
	}
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	prefix := deps.APIPrefix
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := engine.Group(prefix)
	if deps.Operator != nil {
		api.Use(middleware.OperatorAuth(deps.Operator, deps.Logger))
	}
	if cfg.MaxBodyBytes > 0 {
		api.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	for _, registrar := range deps.Registrars {
		registrar.RegisterRoutes(api)
	}

	return engine, nil
}
