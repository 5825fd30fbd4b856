package oauth

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ownerrez-proxy-go/internal/config"
	"ownerrez-proxy-go/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Platform: config.PlatformConfig{
			ProxyOrigin: "https://proxy.example.com",
			WebOrigin:   "https://app.upstream.example",
			APIOrigin:   "https://api.upstream.example",
			UserAgent:   "Test Assistant/1.0",
		},
		OAuth: config.OAuthConfig{
			ClientID:     "c_client",
			ClientSecret: "s_secret",
			CallbackURI:  "https://cb.example/x",
		},
	}
}

func TestNormalizeAuthorize(t *testing.T) {
	reg := NewRegistration(testConfig())

	t.Run("fills missing parameters", func(t *testing.T) {
		q := url.Values{"state": {"opaque-123"}}
		reg.NormalizeAuthorize(q)

		assert.Equal(t, "c_client", q.Get("client_id"))
		assert.Equal(t, "https://cb.example/x", q.Get("redirect_uri"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "opaque-123", q.Get("state"))
	})

	t.Run("replaces blank values", func(t *testing.T) {
		q := url.Values{"client_id": {"  "}, "redirect_uri": {""}}
		reg.NormalizeAuthorize(q)

		assert.Equal(t, "c_client", q.Get("client_id"))
		assert.Equal(t, "https://cb.example/x", q.Get("redirect_uri"))
	})

	t.Run("keeps caller values", func(t *testing.T) {
		q := url.Values{
			"client_id":     {"caller"},
			"redirect_uri":  {"https://caller.example/cb"},
			"response_type": {"token"},
			"scope":         {"read"},
		}
		reg.NormalizeAuthorize(q)

		assert.Equal(t, "caller", q.Get("client_id"))
		assert.Equal(t, "https://caller.example/cb", q.Get("redirect_uri"))
		assert.Equal(t, "token", q.Get("response_type"))
		assert.Equal(t, "read", q.Get("scope"))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := url.Values{"state": {"s"}}
		reg.NormalizeAuthorize(once)
		twice := url.Values{"state": {"s"}}
		reg.NormalizeAuthorize(twice)
		reg.NormalizeAuthorize(twice)

		assert.Equal(t, once, twice)
	})
}

func TestAuthorizeURL(t *testing.T) {
	reg := NewRegistration(testConfig())

	got := reg.AuthorizeURL(url.Values{"state": {"xyz"}})

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "app.upstream.example", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)
	assert.Equal(t, "c_client", u.Query().Get("client_id"))
	assert.Equal(t, "xyz", u.Query().Get("state"))
}

func TestAuthorizeURL_RegisteredClient(t *testing.T) {
	t.Run("extra parameters pass through", func(t *testing.T) {
		reg := NewRegistration(testConfig())

		got := reg.AuthorizeURL(url.Values{
			"scope":  {"read write"},
			"prompt": {"consent"},
			"state":  {""},
		})

		u, err := url.Parse(got)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "read write", q.Get("scope"))
		assert.Equal(t, "consent", q.Get("prompt"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "https://cb.example/x", q.Get("redirect_uri"))
		require.Contains(t, q, "state")
		assert.Equal(t, "", q.Get("state"))
	})

	t.Run("multi-valued parameters kept", func(t *testing.T) {
		reg := NewRegistration(testConfig())

		q := url.Values{"resource": {"a", "b"}}
		reg.NormalizeAuthorize(q)

		assert.Equal(t, []string{"a", "b"}, q["resource"])
	})

	t.Run("unregistered client leaves caller values", func(t *testing.T) {
		cfg := testConfig()
		cfg.OAuth.ClientID = ""
		cfg.OAuth.CallbackURI = ""
		reg := NewRegistration(cfg)

		q := url.Values{"state": {"s"}}
		reg.NormalizeAuthorize(q)

		assert.NotContains(t, q, "client_id")
		assert.NotContains(t, q, "redirect_uri")
		assert.Equal(t, "code", q.Get("response_type"))

		q = url.Values{"client_id": {"caller"}}
		reg.NormalizeAuthorize(q)
		assert.Equal(t, "caller", q.Get("client_id"))
	})
}

func TestResolveTokenParams(t *testing.T) {
	reg := NewRegistration(testConfig())
	const form = "application/x-www-form-urlencoded"

	tests := []struct {
		name        string
		contentType string
		body        string
		query       url.Values
		want        TokenParams
	}{
		{
			name:        "form body with configured redirect",
			contentType: form,
			body:        "grant_type=authorization_code&code=ABC123",
			want:        TokenParams{Code: "ABC123", RedirectURI: "https://cb.example/x"},
		},
		{
			name:        "body wins over query",
			contentType: form,
			body:        "code=FROM_BODY&redirect_uri=https%3A%2F%2Fbody.example",
			query:       url.Values{"code": {"FROM_QUERY"}, "redirect_uri": {"https://query.example"}},
			want:        TokenParams{Code: "FROM_BODY", RedirectURI: "https://body.example"},
		},
		{
			name:  "query when body empty",
			query: url.Values{"code": {"Q1"}, "redirect_uri": {"https://query.example"}},
			want:  TokenParams{Code: "Q1", RedirectURI: "https://query.example"},
		},
		{
			name:        "query wins over configured redirect",
			contentType: form,
			body:        "code=B1",
			query:       url.Values{"redirect_uri": {"https://query.example"}},
			want:        TokenParams{Code: "B1", RedirectURI: "https://query.example"},
		},
		{
			name:        "json body",
			contentType: "application/json; charset=utf-8",
			body:        `{"code":"J1","redirect_uri":"https://json.example"}`,
			want:        TokenParams{Code: "J1", RedirectURI: "https://json.example"},
		},
		{
			name: "form body without content type",
			body: "code=NOCT",
			want: TokenParams{Code: "NOCT", RedirectURI: "https://cb.example/x"},
		},
		{
			name:        "blank body code falls back to query",
			contentType: form,
			body:        "code=",
			query:       url.Values{"code": {"Q2"}},
			want:        TokenParams{Code: "Q2", RedirectURI: "https://cb.example/x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := tt.query
			if query == nil {
				query = url.Values{}
			}
			got, err := reg.ResolveTokenParams(tt.contentType, []byte(tt.body), query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveTokenParams_Errors(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		reg := NewRegistration(testConfig())
		_, err := reg.ResolveTokenParams("application/x-www-form-urlencoded", []byte("grant_type=authorization_code"), url.Values{})
		assert.ErrorIs(t, err, model.ErrMissingAuthorizationCode)
	})

	t.Run("missing redirect without callback", func(t *testing.T) {
		cfg := testConfig()
		cfg.OAuth.CallbackURI = ""
		reg := NewRegistration(cfg)
		_, err := reg.ResolveTokenParams("", nil, url.Values{"code": {"X"}})
		assert.ErrorIs(t, err, model.ErrMissingRedirectURI)
	})
}

func TestTokenParams_Encode(t *testing.T) {
	p := TokenParams{Code: "ABC123", RedirectURI: "https://cb.example/x"}
	assert.Equal(t,
		"grant_type=authorization_code&code=ABC123&redirect_uri=https%3A%2F%2Fcb.example%2Fx",
		p.Encode())
}

func TestNewTokenRequest(t *testing.T) {
	reg := NewRegistration(testConfig())

	req, err := reg.NewTokenRequest(context.Background(), TokenParams{Code: "ABC123", RedirectURI: "https://cb.example/x"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://api.upstream.example/oauth/access_token", req.URL.String())
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("c_client:s_secret")), req.Header.Get("Authorization"))
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "Test Assistant/1.0", req.Header.Get("User-Agent"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "grant_type=authorization_code&code=ABC123&redirect_uri=https%3A%2F%2Fcb.example%2Fx", string(body))
}

func TestNewTokenRequest_MissingSecret(t *testing.T) {
	cfg := testConfig()
	cfg.OAuth.ClientSecret = ""
	reg := NewRegistration(cfg)

	_, err := reg.NewTokenRequest(context.Background(), TokenParams{Code: "A", RedirectURI: "https://cb"})

	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "oauth.client_secret", cfgErr.Setting)
}
