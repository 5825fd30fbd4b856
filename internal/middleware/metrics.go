package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"ownerrez-proxy-go/internal/metrics"
)

// MetricsMiddleware records inbound request metrics labelled by method, status
// and route category. Requests to the exposition endpoint are labelled
// "metrics" on whatever path it is served.
func MetricsMiddleware(m *metrics.Metrics, exposePath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			path := c.Request().URL.Path
			category := metrics.NormalizePath(path)
			if path == exposePath {
				category = "metrics"
			}

			method := metrics.NormalizeMethod(c.Request().Method)
			status := strconv.Itoa(responseStatus(c, err))

			m.RequestsTotal.WithLabelValues(method, status, category).Inc()
			m.RequestDuration.WithLabelValues(method, status, category).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// responseStatus resolves the status the client receives. A returned error is
// written afterwards by echo's central error handler: an *echo.HTTPError keeps
// its code and anything else becomes a 500.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
