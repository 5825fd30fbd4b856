package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ownerrez-proxy-go/internal/config"
	"ownerrez-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Local routes
// are registered first; every other path falls through to the proxy.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	proxy *ProxyHandler,
	shim *ShimHandler,
	health *HealthHandler,
) {
	e.GET("/__health", health.Healthz)
	e.GET("/__status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	if !cfg.Shim.Disabled {
		e.POST("/gpt/spotrates/patch", shim.PatchSpotRates)
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
