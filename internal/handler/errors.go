package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"

	"github.com/labstack/echo/v4"

	"ownerrez-proxy-go/internal/model"
)

// secretParamPattern matches credential-bearing query values in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)\b((?:code|access_token|refresh_token|client_secret)=)[^&\s"]+`)

// respondError maps err to the proxy's JSON error envelope.
func respondError(c echo.Context, logger *slog.Logger, err error) error {
	var clientErr *model.ClientRequestError
	if errors.As(err, &clientErr) {
		logger.Info("rejected request",
			"code", clientErr.Code,
			"reason", clientErr.Message,
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": clientErr.Code})
	}

	var cfgErr *model.ConfigurationError
	if errors.As(err, &cfgErr) {
		logger.Error("missing configuration",
			"setting", cfgErr.Setting,
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "missing_configuration",
			"setting": cfgErr.Setting,
		})
	}

	logger.Error("upstream error",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
	)

	code, message := upstreamFailure(err)
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error":   code,
		"message": message,
	})
}

func upstreamFailure(err error) (code, message string) {
	if errors.Is(err, model.ErrResponseTooLarge) {
		return "upstream_response_too_large", "upstream response exceeded the buffering limit"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "upstream_timeout", "upstream request timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "upstream_canceled", "request canceled before the upstream responded"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "upstream_unreachable", "upstream host could not be resolved"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "upstream_connection_failed", "upstream connection failed"
	}

	return "upstream_request_failed", "upstream request failed"
}

// sanitizeError redacts authorization codes and tokens from error messages that
// may contain upstream URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
