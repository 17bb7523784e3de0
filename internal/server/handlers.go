// Package server provides the HTTP read API over the aggregated directory.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"apidirectory/internal/core"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// Handler holds the HTTP handlers
type Handler struct {
	dir Directory
}

// NewHandler creates a new handler over dir
func NewHandler(dir Directory) *Handler {
	return &Handler{dir: dir}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"sources": h.dir.Sources(),
	})
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(c echo.Context) error {
	resp, err := h.dir.GetProviders(c.Request().Context())
	return respond(c, resp, err)
}

// GetProvider handles GET /v1/providers/:provider
func (h *Handler) GetProvider(c echo.Context) error {
	resp, err := h.dir.GetProvider(c.Request().Context(), c.Param("provider"))
	return respond(c, resp, err)
}

// ListServices handles GET /v1/providers/:provider/services
func (h *Handler) ListServices(c echo.Context) error {
	resp, err := h.dir.GetServices(c.Request().Context(), c.Param("provider"))
	return respond(c, resp, err)
}

// ListAPIs handles GET /v1/apis
func (h *Handler) ListAPIs(c echo.Context) error {
	resp, err := h.dir.ListAPIs(c.Request().Context())
	return respond(c, resp, err)
}

// GetAPI handles GET /v1/apis/:provider/:version
func (h *Handler) GetAPI(c echo.Context) error {
	resp, err := h.dir.GetAPI(c.Request().Context(), c.Param("provider"), c.Param("version"))
	return respond(c, resp, err)
}

// GetServiceAPI handles GET /v1/apis/:provider/:service/:version
func (h *Handler) GetServiceAPI(c echo.Context) error {
	resp, err := h.dir.GetServiceAPI(c.Request().Context(), c.Param("provider"), c.Param("service"), c.Param("version"))
	return respond(c, resp, err)
}

// GetAPISummary handles GET /v1/apis/summary?id=
func (h *Handler) GetAPISummary(c echo.Context) error {
	resp, err := h.dir.GetAPISummary(c.Request().Context(), c.QueryParam("id"))
	return respond(c, resp, err)
}

// GetOpenAPISpec handles GET /v1/apis/spec?id=
func (h *Handler) GetOpenAPISpec(c echo.Context) error {
	resp, err := h.dir.GetOpenAPISpec(c.Request().Context(), c.QueryParam("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSONBlob(http.StatusOK, resp)
}

// ListEndpoints handles GET /v1/apis/endpoints?id=&page=&limit=&tag=
func (h *Handler) ListEndpoints(c echo.Context) error {
	page, limit, err := pageParams(c)
	if err != nil {
		return handleError(c, err)
	}
	resp, err := h.dir.GetAPIEndpoints(c.Request().Context(), c.QueryParam("id"), page, limit, c.QueryParam("tag"))
	return respond(c, resp, err)
}

// GetEndpoint handles GET /v1/apis/endpoint?id=&method=&path=&view=details|schema|examples
func (h *Handler) GetEndpoint(c echo.Context) error {
	ctx := c.Request().Context()
	id, method, path := c.QueryParam("id"), c.QueryParam("method"), c.QueryParam("path")

	switch view := c.QueryParam("view"); view {
	case "", "details":
		resp, err := h.dir.GetEndpointDetails(ctx, id, method, path)
		return respond(c, resp, err)
	case "schema":
		resp, err := h.dir.GetEndpointSchema(ctx, id, method, path)
		return respond(c, resp, err)
	case "examples":
		resp, err := h.dir.GetEndpointExamples(ctx, id, method, path)
		return respond(c, resp, err)
	default:
		return handleError(c, core.NewValidationError("view must be one of details, schema, examples"))
	}
}

// Search handles GET /v1/search?q=&page=&limit=
func (h *Handler) Search(c echo.Context) error {
	page, limit, err := pageParams(c)
	if err != nil {
		return handleError(c, err)
	}
	resp, err := h.dir.SearchAPIs(c.Request().Context(), c.QueryParam("q"), page, limit)
	return respond(c, resp, err)
}

// Metrics handles GET /v1/metrics
func (h *Handler) Metrics(c echo.Context) error {
	resp, err := h.dir.GetMetrics(c.Request().Context())
	return respond(c, resp, err)
}

// Popular handles GET /v1/popular?limit=
func (h *Handler) Popular(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil {
		return handleError(c, err)
	}
	results, err := h.dir.GetPopularAPIs(c.Request().Context(), limit)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// Recent handles GET /v1/recent?limit=
func (h *Handler) Recent(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil {
		return handleError(c, err)
	}
	results, err := h.dir.GetRecentlyUpdatedAPIs(c.Request().Context(), limit)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// CacheStats handles GET /admin/cache
func (h *Handler) CacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dir.CacheStats(c.Request().Context()))
}

// InvalidateCache handles DELETE /admin/cache?pattern=. Without a pattern the whole cache is cleared.
func (h *Handler) InvalidateCache(c echo.Context) error {
	ctx := c.Request().Context()
	pattern := c.QueryParam("pattern")
	if pattern == "" {
		h.dir.ClearCache(ctx)
		return c.JSON(http.StatusOK, map[string]any{"cleared": true})
	}
	return c.JSON(http.StatusOK, map[string]any{"pattern": pattern, "removed": h.dir.InvalidateCache(ctx, pattern)})
}

func respond(c echo.Context, resp any, err error) error {
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// pageParams reads page and limit, defaulting to 1 and 20. Range checks are left to the directory.
func pageParams(c echo.Context) (int, int, error) {
	page, err := intParam(c, "page", defaultPage)
	if err != nil {
		return 0, 0, err
	}
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewValidationError(name + " must be an integer")
	}
	return n, nil
}

// handleError converts directory errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var dirErr *core.DirectoryError
	if errors.As(err, &dirErr) {
		return c.JSON(dirErr.HTTPStatusCode(), dirErr.ToJSON())
	}

	slog.Error("unexpected error", "path", c.Path(), "request_id", core.RequestID(c.Request().Context()), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
