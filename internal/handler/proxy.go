package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"ownerrez-proxy-go/internal/config"
	"ownerrez-proxy-go/internal/model"
	"ownerrez-proxy-go/internal/route"
	"ownerrez-proxy-go/internal/service"
)

var requestIDHeader = http.CanonicalHeaderKey(echo.HeaderXRequestID)

// ProxyHandler dispatches every non-local request by its route category.
type ProxyHandler struct {
	service     *service.ProxyService
	passthrough bool
	logger      *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:     svc,
		passthrough: cfg.Platform.WebPassthrough,
		logger:      logger.With("component", "proxy_handler"),
	}
}

// Handle classifies the request path and runs the matching pipeline.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	switch route.Classify(req.URL.Path) {
	case route.Authorize:
		return c.Redirect(http.StatusFound, h.service.AuthorizeURL(req.URL.RawQuery))

	case route.Web:
		if !h.passthrough {
			return c.Redirect(http.StatusFound, h.service.WebURL(req.URL.EscapedPath(), req.URL.RawQuery))
		}
		pr, err := newProxyRequest(c)
		if err != nil {
			return err
		}
		resp, err := h.service.ForwardWeb(pr)
		if err != nil {
			return respondError(c, h.logger, err)
		}
		return writeResponse(c, resp)

	case route.Token:
		pr, err := newProxyRequest(c)
		if err != nil {
			return err
		}
		resp, err := h.service.ExchangeToken(pr)
		if err != nil {
			return respondError(c, h.logger, err)
		}
		return writeResponse(c, resp)

	default:
		pr, err := newProxyRequest(c)
		if err != nil {
			return err
		}
		resp, err := h.service.ForwardAPI(pr)
		if err != nil {
			return respondError(c, h.logger, err)
		}
		return writeResponse(c, resp)
	}
}

// newProxyRequest buffers the inbound body. A body over the configured limit
// surfaces as the *echo.HTTPError raised by the body limit middleware.
func newProxyRequest(c echo.Context) (*model.ProxyRequest, error) {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return nil, he
		}
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unable to read request body")
	}

	return &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	}, nil
}

// writeResponse relays a buffered upstream response. Upstream values replace
// headers set earlier by middleware, except the proxy's own request id.
// Multi-value headers such as Set-Cookie are written as separate lines.
func writeResponse(c echo.Context, resp *model.ProxyResponse) error {
	dst := c.Response().Header()
	for key, vals := range resp.Header {
		if http.CanonicalHeaderKey(key) == requestIDHeader && dst.Get(requestIDHeader) != "" {
			continue
		}
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	_, err := c.Response().Write(resp.Body)
	return err
}
