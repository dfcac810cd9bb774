// Package router assembles the gin engine and mounts the API handlers.
package router

import (
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine        *gin.Engine
	apiVersion    string
	apiMiddleware []gin.HandlerFunc
	registrars    []RouteRegistrar
	public        []RouteRegistrar
	swagger       *middleware.SwaggerConfig
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware that runs only on versioned API routes
func WithAPIMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.apiMiddleware = append(r.apiMiddleware, mw...)
	}
}

// WithSwagger serves the API documentation at /swagger/*any behind
// SwaggerProtection
func WithSwagger(cfg middleware.SwaggerConfig) RouterOption {
	return func(r *Router) {
		r.swagger = &cfg
	}
}

// NewRouter creates a new Router instance. Versioned routes require a
// resolved actor.
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:        engine,
		apiVersion:    "v1",
		apiMiddleware: []gin.HandlerFunc{middleware.Actor(), middleware.SpanActor()},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar mounted under /api/{version}
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// RegisterPublic adds a RouteRegistrar mounted at the root, outside the
// actor check
func (r *Router) RegisterPublic(registrar RouteRegistrar) *Router {
	r.public = append(r.public, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	for _, registrar := range r.public {
		registrar.RegisterRoutes(&r.engine.RouterGroup)
	}

	if r.swagger != nil {
		r.engine.GET("/swagger/*any",
			middleware.SwaggerProtection(*r.swagger),
			ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.engine.Group("/api/"+r.apiVersion, r.apiMiddleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// EngineConfig holds the engine-wide middleware settings
type EngineConfig struct {
	Mode           string // gin.ReleaseMode, gin.DebugMode, gin.TestMode
	ServiceName    string
	TracingEnabled bool
	MaxBodySize    int64
	TrustedProxies []string
}

// NewEngine creates a gin engine with the middleware every route shares:
// panic recovery, request logging, optional tracing and the body limit
func NewEngine(cfg EngineConfig, log *zap.Logger) (*gin.Engine, error) {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(logger.Recovery(log), logger.GinMiddleware(log))
	if cfg.TracingEnabled {
		engine.Use(middleware.Tracing(cfg.ServiceName))
	}
	engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	return engine, nil
}
