package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Category
	}{
		{"/oauth/access_token", Token},
		{"/oauth/authorize", Authorize},
		{"/oauth/authorize/", Web},
		{"/oauth/revoke", Web},
		{"/login", Web},
		{"/login?returnUrl=x", Web},
		{"/loginhelp", Web},
		{"/signin-oidc", Web},
		{"/account/login", Web},
		{"/identity/connect", Web},
		{"/", Web},
		{"", API},
		{"/v2/properties", API},
		{"/v2/bookings/42", API},
		{"/oauth", API},
		{"/LOGIN", API},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	paths := []string{"/", "/oauth/access_token", "/oauth/authorize", "/account", "/v2/x", "/__anything"}
	for _, p := range paths {
		first := Classify(p)
		for range 5 {
			assert.Equal(t, first, Classify(p), "path %q", p)
		}
		assert.Contains(t, []Category{API, Token, Authorize, Web}, first)
	}
}

func TestCategory_String(t *testing.T) {
	assert.Equal(t, "api", API.String())
	assert.Equal(t, "token", Token.String())
	assert.Equal(t, "authorize", Authorize.String())
	assert.Equal(t, "web", Web.String())
}
