package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ownerrez-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz answers liveness checks without touching either upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type statusResponse struct {
	OK             bool   `json:"ok"`
	Version        string `json:"version"`
	ProxyOrigin    string `json:"proxy_origin"`
	WebOrigin      string `json:"web_origin"`
	APIOrigin      string `json:"api_origin"`
	WebPassthrough bool   `json:"web_passthrough"`
	ShimEnabled    bool   `json:"shim_enabled"`
}

// Status reports the build version and configured origins. Credentials are never included.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		OK:             true,
		Version:        string(h.version),
		ProxyOrigin:    h.cfg.Platform.ProxyOrigin,
		WebOrigin:      h.cfg.Platform.WebOrigin,
		APIOrigin:      h.cfg.Platform.APIOrigin,
		WebPassthrough: h.cfg.Platform.WebPassthrough,
		ShimEnabled:    !h.cfg.Shim.Disabled,
	})
}
