package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apidirectory/config"
	"apidirectory/internal/cache"
	"apidirectory/internal/core"
)

// Directory is the read API the server exposes. *aggregate.Engine implements it.
type Directory interface {
	GetProviders(ctx context.Context) (*core.ProvidersResponse, error)
	GetProvider(ctx context.Context, provider string) (*core.ProviderAPIs, error)
	GetServices(ctx context.Context, provider string) (*core.ServicesResponse, error)
	ListAPIs(ctx context.Context) (core.APIList, error)
	GetAPI(ctx context.Context, provider, version string) (*core.APIRecord, error)
	GetServiceAPI(ctx context.Context, provider, service, version string) (*core.APIRecord, error)
	SearchAPIs(ctx context.Context, query string, page, limit int) (*core.SearchResponse, error)
	GetMetrics(ctx context.Context) (*core.Metrics, error)
	GetPopularAPIs(ctx context.Context, limit int) ([]core.SearchResult, error)
	GetRecentlyUpdatedAPIs(ctx context.Context, limit int) ([]core.SearchResult, error)
	GetAPISummary(ctx context.Context, apiID string) (*core.APISummary, error)
	GetOpenAPISpec(ctx context.Context, apiID string) (json.RawMessage, error)
	GetAPIEndpoints(ctx context.Context, apiID string, page, limit int, tag string) (*core.EndpointList, error)
	GetEndpointDetails(ctx context.Context, apiID, method, path string) (*core.EndpointDetails, error)
	GetEndpointSchema(ctx context.Context, apiID, method, path string) (*core.EndpointSchema, error)
	GetEndpointExamples(ctx context.Context, apiID, method, path string) (*core.EndpointExamples, error)

	Sources() []string
	CacheStats(ctx context.Context) cache.Stats
	InvalidateCache(ctx context.Context, pattern string) int
	ClearCache(ctx context.Context)
}

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	AdminKey        string // Optional: Bearer token required on /admin routes
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64  // Max request body size in bytes (default: 1MB)
}

// New creates a new HTTP server
func New(dir Directory, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(dir)

	// Global middleware stack (order matters)
	e.Use(requestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg != nil && cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// Directory routes
	v1 := e.Group("/v1")
	v1.GET("/providers", handler.ListProviders)
	v1.GET("/providers/:provider", handler.GetProvider)
	v1.GET("/providers/:provider/services", handler.ListServices)
	v1.GET("/apis", handler.ListAPIs)
	v1.GET("/apis/summary", handler.GetAPISummary)
	v1.GET("/apis/spec", handler.GetOpenAPISpec)
	v1.GET("/apis/endpoints", handler.ListEndpoints)
	v1.GET("/apis/endpoint", handler.GetEndpoint)
	v1.GET("/apis/:provider/:version", handler.GetAPI)
	v1.GET("/apis/:provider/:service/:version", handler.GetServiceAPI)
	v1.GET("/search", handler.Search)
	v1.GET("/metrics", handler.Metrics)
	v1.GET("/popular", handler.Popular)
	v1.GET("/recent", handler.Recent)

	// Cache administration
	var adminKey string
	if cfg != nil {
		adminKey = cfg.AdminKey
	}
	admin := e.Group("/admin", adminAuth(adminKey))
	admin.GET("/cache", handler.CacheStats)
	admin.DELETE("/cache", handler.InvalidateCache)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// requestID propagates X-Request-ID, generating one when the client sent none
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(core.RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(core.RequestIDHeader, id)
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
			return next(c)
		}
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
