// Package oauth repairs the OAuth authorization-code flow on behalf of callers
// that cannot build complete authorize URLs or token requests themselves.
package oauth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"ownerrez-proxy-go/internal/config"
	"ownerrez-proxy-go/internal/model"
	"ownerrez-proxy-go/internal/route"
)

// Registration is the OAuth client registered with the platform, along with the
// platform endpoints it talks to.
type Registration struct {
	conf      *oauth2.Config
	userAgent string
}

// NewRegistration derives the OAuth client from configuration. The authorize
// endpoint lives on the web origin and the token endpoint on the API origin.
func NewRegistration(cfg *config.Config) *Registration {
	return &Registration{
		conf: &oauth2.Config{
			ClientID:     strings.TrimSpace(cfg.OAuth.ClientID),
			ClientSecret: strings.TrimSpace(cfg.OAuth.ClientSecret),
			RedirectURL:  strings.TrimSpace(cfg.OAuth.CallbackURI),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Platform.WebOrigin + route.AuthorizePath,
				TokenURL: cfg.Platform.APIOrigin + route.TokenPath,
			},
		},
		userAgent: cfg.Platform.UserAgent,
	}
}

// NormalizeAuthorize fills in client_id and redirect_uri when absent or blank and
// defaults response_type to "code". Every other parameter, state included, is
// left as the caller sent it. Applying it twice has no further effect.
func (r *Registration) NormalizeAuthorize(q url.Values) {
	out := r.authorizeQuery(q)
	for key := range q {
		delete(q, key)
	}
	for key, vals := range out {
		q[key] = vals
	}
}

// AuthorizeURL normalizes q and returns the absolute authorize URL on the web origin.
func (r *Registration) AuthorizeURL(q url.Values) string {
	r.NormalizeAuthorize(q)
	return r.conf.Endpoint.AuthURL + "?" + q.Encode()
}

// authorizeQuery renders q through AuthCodeURL on a per-request copy of the
// registered client, so the registration supplies whatever the caller left blank.
func (r *Registration) authorizeQuery(q url.Values) url.Values {
	conf := *r.conf
	if strings.TrimSpace(q.Get("client_id")) != "" {
		conf.ClientID = q.Get("client_id")
	}
	if strings.TrimSpace(q.Get("redirect_uri")) != "" {
		conf.RedirectURL = q.Get("redirect_uri")
	}

	var opts []oauth2.AuthCodeOption
	for key, vals := range q {
		switch key {
		case "client_id", "redirect_uri", "state":
			continue
		}
		if len(vals) > 0 {
			opts = append(opts, oauth2.SetAuthURLParam(key, vals[0]))
		}
	}

	u, err := url.Parse(conf.AuthCodeURL(q.Get("state"), opts...))
	if err != nil {
		return q
	}
	out := u.Query()

	// AuthCodeURL keeps one value per key and drops a blank state or an unset
	// registration value; restore what the caller sent in those cases.
	for key, vals := range q {
		if len(vals) > 1 || key == "state" {
			out[key] = vals
		}
	}
	if conf.ClientID == "" {
		delete(out, "client_id")
		if vals, ok := q["client_id"]; ok {
			out["client_id"] = vals
		}
	}
	if conf.RedirectURL == "" {
		if vals, ok := q["redirect_uri"]; ok {
			out["redirect_uri"] = vals
		}
	}
	return out
}

// TokenParams are the only caller-derived inputs of a token exchange.
type TokenParams struct {
	Code        string
	RedirectURI string
}

// Encode returns the canonical form body. Field order is fixed.
func (p TokenParams) Encode() string {
	return "grant_type=authorization_code" +
		"&code=" + url.QueryEscape(p.Code) +
		"&redirect_uri=" + url.QueryEscape(p.RedirectURI)
}

// ResolveTokenParams finds code and redirect_uri in the request body first, then
// the query string; redirect_uri finally falls back to the configured callback.
func (r *Registration) ResolveTokenParams(contentType string, body []byte, query url.Values) (TokenParams, error) {
	fromBody := bodyParams(contentType, body)

	code := firstNonBlank(fromBody.Get("code"), query.Get("code"))
	if code == "" {
		return TokenParams{}, model.ErrMissingAuthorizationCode
	}

	redirectURI := firstNonBlank(fromBody.Get("redirect_uri"), query.Get("redirect_uri"), r.conf.RedirectURL)
	if redirectURI == "" {
		return TokenParams{}, model.ErrMissingRedirectURI
	}

	return TokenParams{Code: code, RedirectURI: redirectURI}, nil
}

// NewTokenRequest builds the POST to the platform token endpoint. Nothing from
// the inbound request other than p is carried over.
func (r *Registration) NewTokenRequest(ctx context.Context, p TokenParams) (*http.Request, error) {
	if r.conf.ClientID == "" {
		return nil, &model.ConfigurationError{Setting: "oauth.client_id"}
	}
	if r.conf.ClientSecret == "" {
		return nil, &model.ConfigurationError{Setting: "oauth.client_secret"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.conf.Endpoint.TokenURL, bytes.NewBufferString(p.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+basicCredentials(r.conf.ClientID, r.conf.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", r.userAgent)
	return req, nil
}

func basicCredentials(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}

// bodyParams reads parameters from a form or JSON body. A body without a
// content type is tried as a form.
func bodyParams(contentType string, body []byte) url.Values {
	params := make(url.Values)
	if len(bytes.TrimSpace(body)) == 0 {
		return params
	}

	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}

	switch {
	case mediaType == "application/json" || (mediaType == "" && gjson.ValidBytes(body) && gjson.ParseBytes(body).IsObject()):
		for _, key := range []string{"code", "redirect_uri"} {
			if v := gjson.GetBytes(body, key); v.Exists() && v.Type != gjson.Null {
				params.Set(key, v.String())
			}
		}
	case mediaType == "application/x-www-form-urlencoded" || mediaType == "":
		// ParseQuery keeps every pair it could decode even when it reports an error.
		params, _ = url.ParseQuery(string(body))
	}
	return params
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
