// Package rewrite adjusts upstream redirects and cookies so that a caller who only
// ever talks to the proxy can follow them.
package rewrite

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"ownerrez-proxy-go/internal/config"
	"ownerrez-proxy-go/internal/oauth"
	"ownerrez-proxy-go/internal/route"
)

// redirectStatuses are the statuses whose Location header is inspected.
var redirectStatuses = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// loginSegments are final path segments that identify a generic login page.
var loginSegments = map[string]bool{"login": true, "signin": true, "logon": true}

// Changes records which rewrites were applied to a response.
type Changes struct {
	Origin        bool // Location moved from an upstream origin to the proxy
	LoginCollapse bool // login?returnUrl=authorize hop replaced by the authorize URL
	Authorize     bool // authorize query normalized
	Cookies       int  // Set-Cookie values modified
}

// Rewriter holds the origins and OAuth registration needed to rewrite responses.
// It has no mutable state and is safe for concurrent use.
type Rewriter struct {
	proxy         *url.URL
	upstreams     map[string]bool
	upstreamHosts map[string]bool
	proxyHost     string
	cookieDomain string
	cookieHosts  map[string]bool
	oauth        *oauth.Registration
}

// NewRewriter builds a Rewriter from the configured origins.
func NewRewriter(cfg *config.Config, reg *oauth.Registration) (*Rewriter, error) {
	proxy, err := url.Parse(cfg.Platform.ProxyOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse proxy origin: %w", err)
	}

	rw := &Rewriter{
		proxy:         proxy,
		upstreams:     make(map[string]bool),
		upstreamHosts: make(map[string]bool),
		proxyHost:     cfg.Platform.ProxyHost(),
		cookieDomain:  cfg.Platform.SharedCookieDomain(),
		cookieHosts:   make(map[string]bool),
		oauth:         reg,
	}
	for _, origin := range []string{cfg.Platform.WebOrigin, cfg.Platform.APIOrigin} {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("parse upstream origin %q: %w", origin, err)
		}
		rw.upstreams[originKey(u)] = true
		rw.upstreamHosts[strings.ToLower(u.Host)] = true
		rw.cookieHosts[strings.ToLower(u.Hostname())] = true
	}
	return rw, nil
}

// Apply rewrites the Location header of redirect responses and every Set-Cookie
// value in h. Set-Cookie values stay separate header lines in their original order.
func (rw *Rewriter) Apply(status int, h http.Header) Changes {
	var ch Changes

	if loc := h.Get("Location"); loc != "" && redirectStatuses[status] {
		var rewritten string
		rewritten, ch = rw.Location(loc)
		h.Set("Location", rewritten)
	}

	if cookies := h.Values("Set-Cookie"); len(cookies) > 0 {
		out := make([]string, len(cookies))
		for i, c := range cookies {
			out[i] = rw.Cookie(c)
			if out[i] != c {
				ch.Cookies++
			}
		}
		h.Del("Set-Cookie")
		for _, c := range out {
			h.Add("Set-Cookie", c)
		}
	}

	return ch
}

// Location rewrites a single Location value. Absolute URLs on an upstream origin
// are moved to the proxy origin; relative URLs keep their form. Login redirects
// that carry an authorize returnUrl collapse into the normalized authorize URL.
func (rw *Rewriter) Location(loc string) (string, Changes) {
	var ch Changes

	u, err := url.Parse(loc)
	if err != nil {
		return loc, ch
	}

	absolute := u.IsAbs()
	if !absolute && u.Host != "" {
		// Scheme-relative: the host alone decides whether it leaves the proxy.
		if !rw.upstreamHosts[strings.ToLower(u.Host)] {
			return loc, ch
		}
		u.Scheme = rw.proxy.Scheme
		u.Host = rw.proxy.Host
		ch.Origin = true
		absolute = true
	} else if absolute {
		switch {
		case rw.upstreams[originKey(u)]:
			u.Scheme = rw.proxy.Scheme
			u.Host = rw.proxy.Host
			ch.Origin = true
		case originKey(u) != originKey(rw.proxy):
			return loc, ch
		}
	}

	target := rw.proxy.ResolveReference(u)

	if isLoginPath(target.Path) {
		if inner, ok := rw.returnURL(target.Query()); ok {
			q := inner.Query()
			rw.oauth.NormalizeAuthorize(q)
			ch.LoginCollapse = true
			return rw.format(&url.URL{Path: route.AuthorizePath, RawQuery: q.Encode()}, absolute), ch
		}
	} else if target.Path == route.AuthorizePath {
		q := target.Query()
		rw.oauth.NormalizeAuthorize(q)
		ch.Authorize = true
		return rw.format(&url.URL{Path: route.AuthorizePath, RawQuery: q.Encode(), Fragment: target.Fragment}, absolute), ch
	}

	if ch.Origin {
		return u.String(), ch
	}
	return loc, ch
}

// format renders u as an absolute proxy URL or a path+query.
func (rw *Rewriter) format(u *url.URL, absolute bool) string {
	if absolute {
		u.Scheme = rw.proxy.Scheme
		u.Host = rw.proxy.Host
	}
	return u.String()
}

// returnURL extracts a returnUrl parameter whose path is, or begins with, the
// authorize endpoint on the proxy or an upstream origin.
func (rw *Rewriter) returnURL(q url.Values) (*url.URL, bool) {
	for key, vals := range q {
		if !strings.EqualFold(key, "returnUrl") || len(vals) == 0 || vals[0] == "" {
			continue
		}
		inner, err := url.Parse(vals[0])
		if err != nil {
			return nil, false
		}
		if inner.IsAbs() && !rw.upstreams[originKey(inner)] && originKey(inner) != originKey(rw.proxy) {
			return nil, false
		}
		if !inner.IsAbs() && inner.Host != "" && !rw.upstreamHosts[strings.ToLower(inner.Host)] {
			return nil, false
		}
		if !strings.HasPrefix(inner.Path, route.AuthorizePath) {
			return nil, false
		}
		return inner, true
	}
	return nil, false
}

// Cookie re-scopes one Set-Cookie value to the proxy host and makes it survive
// cross-site redirects.
func (rw *Rewriter) Cookie(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts)+2)

	hasSameSite, hasSecure := false, false
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == 0 {
			out = append(out, part)
			continue
		}

		name, value, _ := strings.Cut(part, "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "domain":
			if rw.sharedDomain(value) {
				part = "Domain=" + rw.proxyHost
			}
		case "samesite":
			hasSameSite = true
		case "secure":
			hasSecure = true
		}
		out = append(out, part)
	}

	if !hasSameSite {
		out = append(out, "SameSite=None")
	}
	if !hasSecure {
		out = append(out, "Secure")
	}

	return strings.Join(out, "; ")
}

func (rw *Rewriter) sharedDomain(domain string) bool {
	d := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if d == "" {
		return false
	}
	if rw.cookieHosts[d] {
		return true
	}
	cd := rw.cookieDomain
	return cd != "" && (d == cd || strings.HasSuffix(d, "."+cd))
}

func isLoginPath(p string) bool {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return false
	}
	return loginSegments[strings.ToLower(path.Base(p))]
}

// originKey returns scheme://host[:port] with default ports dropped.
func originKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
