package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"ownerrez-proxy-go/internal/service"
)

// ShimHandler serves the spot rate bulk-update endpoint.
type ShimHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewShimHandler creates a ShimHandler.
func NewShimHandler(svc *service.ProxyService, logger *slog.Logger) *ShimHandler {
	return &ShimHandler{
		service: svc,
		logger:  logger.With("component", "shim_handler"),
	}
}

// PatchSpotRates unwraps {"items":[...]} and relays it as a bulk PATCH.
func (h *ShimHandler) PatchSpotRates(c echo.Context) error {
	pr, err := newProxyRequest(c)
	if err != nil {
		return err
	}

	resp, err := h.service.PatchSpotRates(pr)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return writeResponse(c, resp)
}
