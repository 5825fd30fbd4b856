// Package route classifies inbound request paths to an upstream destination.
package route

import "strings"

// Well-known OAuth endpoint paths, identical on the proxy and the upstream origins.
const (
	TokenPath     = "/oauth/access_token"
	AuthorizePath = "/oauth/authorize"
)

// Category is the destination class of a request path.
type Category int

const (
	API Category = iota
	Token
	Authorize
	Web
)

// webPrefixes mark paths that belong to the upstream's interactive browser UI.
var webPrefixes = []string{"/oauth/", "/login", "/signin", "/account", "/identity"}

// Classify maps a request path to exactly one Category. It depends on nothing
// but the path.
func Classify(path string) Category {
	switch path {
	case TokenPath:
		return Token
	case AuthorizePath:
		return Authorize
	case "/":
		return Web
	}
	for _, prefix := range webPrefixes {
		if strings.HasPrefix(path, prefix) {
			return Web
		}
	}
	return API
}

func (c Category) String() string {
	switch c {
	case Token:
		return "token"
	case Authorize:
		return "authorize"
	case Web:
		return "web"
	default:
		return "api"
	}
}
