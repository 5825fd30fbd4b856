// Package service implements the proxy pipeline: sanitize, forward, rewrite.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"ownerrez-proxy-go/internal/client"
	"ownerrez-proxy-go/internal/config"
	"ownerrez-proxy-go/internal/metrics"
	"ownerrez-proxy-go/internal/model"
	"ownerrez-proxy-go/internal/oauth"
	"ownerrez-proxy-go/internal/rewrite"
	"ownerrez-proxy-go/internal/shim"
)

// droppedRequestHeaders are recomputed for the new destination or replaced.
var droppedRequestHeaders = map[string]bool{
	"Host":           true,
	"Content-Length": true,
	"User-Agent":     true,
}

// droppedResponseHeaders are hop-by-hop or recomputed when the buffered body is written.
var droppedResponseHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// ProxyService routes classified requests to the platform origins.
type ProxyService struct {
	client   *client.PlatformClient
	cfg      *config.Config
	oauth    *oauth.Registration
	rewriter *rewrite.Rewriter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(
	c *client.PlatformClient,
	cfg *config.Config,
	reg *oauth.Registration,
	rw *rewrite.Rewriter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ProxyService {
	return &ProxyService{
		client:   c,
		cfg:      cfg,
		oauth:    reg,
		rewriter: rw,
		metrics:  m,
		logger:   logger.With("component", "proxy_service"),
	}
}

// ForwardAPI relays pr to the API origin.
func (s *ProxyService) ForwardAPI(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	return s.forward(pr, s.cfg.Platform.APIOrigin)
}

// ForwardWeb relays pr to the web origin.
func (s *ProxyService) ForwardWeb(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	return s.forward(pr, s.cfg.Platform.WebOrigin)
}

// forward sends pr to origin with method, path, query and body preserved, then
// rewrites redirects and cookies in the response.
func (s *ProxyService) forward(pr *model.ProxyRequest, origin string) (*model.ProxyResponse, error) {
	var body []byte
	if pr.Method != http.MethodGet && pr.Method != http.MethodHead {
		body = pr.Body
		if body == nil {
			body = []byte{}
		}
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"origin", origin,
		"path", pr.Path,
	)

	resp, err := s.client.Send(pr.Ctx, pr.Method, joinURL(origin, pr.Path, pr.RawQuery), SanitizeHeaders(pr.Header, s.cfg.Platform.UserAgent), body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = relayHeaders(resp.Header)
	s.recordRewrites(s.rewriter.Apply(resp.StatusCode, resp.Header))
	return resp, nil
}

// ExchangeToken rebuilds the caller's token request into the canonical form and
// posts it to the API origin, whatever the inbound method. The upstream response
// is relayed unchanged.
func (s *ProxyService) ExchangeToken(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	params, err := s.oauth.ResolveTokenParams(pr.Header.Get("Content-Type"), pr.Body, parseQuery(pr.RawQuery))
	if err != nil {
		s.recordTokenExchange("client_error")
		return nil, err
	}

	req, err := s.oauth.NewTokenRequest(pr.Ctx, params)
	if err != nil {
		s.recordTokenExchange("config_error")
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.recordTokenExchange("transport_error")
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.recordTokenExchange("ok")
	} else {
		s.logger.Warn("token exchange rejected upstream", "status", resp.StatusCode)
		s.recordTokenExchange("rejected")
	}

	resp.Header = relayHeaders(resp.Header)
	return resp, nil
}

// AuthorizeURL returns the web-origin authorize URL for the caller's query with
// missing OAuth parameters filled in.
func (s *ProxyService) AuthorizeURL(rawQuery string) string {
	return s.oauth.AuthorizeURL(parseQuery(rawQuery))
}

// WebURL returns the web-origin URL for a web-classified path.
func (s *ProxyService) WebURL(path, rawQuery string) string {
	return joinURL(s.cfg.Platform.WebOrigin, path, rawQuery)
}

// PatchSpotRates unwraps a {"items":[...]} body and sends the array as a bulk
// PATCH to the API origin's spot rate resource.
func (s *ProxyService) PatchSpotRates(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	items, err := shim.SpotRateItems(pr.Body)
	if err != nil {
		return nil, err
	}

	header := SanitizeHeaders(pr.Header, s.cfg.Platform.UserAgent)
	header.Set("Content-Type", "application/json")

	target := s.cfg.Platform.APIOrigin + s.cfg.Shim.SpotRatesPath
	resp, err := s.client.Send(pr.Ctx, http.MethodPatch, target, header, items)
	if err != nil {
		return nil, fmt.Errorf("patch spot rates: %w", err)
	}

	resp.Header = relayHeaders(resp.Header)
	return resp, nil
}

// SanitizeHeaders copies src without Host, Content-Length or any User-Agent and
// then sets User-Agent to userAgent.
func SanitizeHeaders(src http.Header, userAgent string) http.Header {
	dst := make(http.Header, len(src)+1)
	for key, vals := range src {
		if droppedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[http.CanonicalHeaderKey(key)] = append(dst[http.CanonicalHeaderKey(key)], vals...)
	}
	dst.Set("User-Agent", userAgent)
	return dst
}

func relayHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if droppedResponseHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func (s *ProxyService) recordRewrites(ch rewrite.Changes) {
	if ch.Origin || ch.LoginCollapse || ch.Authorize {
		s.logger.Debug("rewrote upstream redirect",
			"origin", ch.Origin,
			"login_collapse", ch.LoginCollapse,
			"authorize", ch.Authorize,
		)
	}
	if s.metrics == nil {
		return
	}
	if ch.Origin {
		s.metrics.RewritesTotal.WithLabelValues("location").Inc()
	}
	if ch.LoginCollapse {
		s.metrics.RewritesTotal.WithLabelValues("login_collapse").Inc()
	}
	if ch.Authorize {
		s.metrics.RewritesTotal.WithLabelValues("authorize").Inc()
	}
	if ch.Cookies > 0 {
		s.metrics.RewritesTotal.WithLabelValues("cookie").Add(float64(ch.Cookies))
	}
}

func (s *ProxyService) recordTokenExchange(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenExchanges.WithLabelValues(outcome).Inc()
	}
}

func joinURL(origin, path, rawQuery string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if rawQuery == "" {
		return origin + path
	}
	return origin + path + "?" + rawQuery
}

// parseQuery decodes what it can; a malformed pair is dropped rather than
// failing the request.
func parseQuery(rawQuery string) url.Values {
	q, _ := url.ParseQuery(rawQuery)
	return q
}
