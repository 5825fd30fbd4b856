// Package model defines shared types for the proxy.
package model

import (
	"context"
	"net/http"
)

// ProxyRequest is an inbound request with its body fully buffered.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// ProxyResponse is a buffered upstream response ready to be relayed.
// Header may carry repeated Set-Cookie values; they must stay separate.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
