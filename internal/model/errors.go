package model

import (
	"errors"
	"fmt"
)

// ErrResponseTooLarge is returned when an upstream body exceeds the buffering limit.
var ErrResponseTooLarge = errors.New("upstream response body exceeds limit")

// ClientRequestError reports a request the proxy cannot complete because the
// caller omitted something that has no configured fallback. It maps to 400.
type ClientRequestError struct {
	Code    string
	Message string
}

func (e *ClientRequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client request errors with stable machine-readable codes.
var (
	ErrMissingAuthorizationCode = &ClientRequestError{
		Code:    "missing_authorization_code",
		Message: "code is required in the request body or query string",
	}
	ErrMissingRedirectURI = &ClientRequestError{
		Code:    "missing_redirect_uri",
		Message: "redirect_uri is required and no callback URI is configured",
	}
	ErrInvalidBody = &ClientRequestError{
		Code:    "invalid_body",
		Message: `body must be a JSON object with a non-empty "items" array`,
	}
)

// ConfigurationError reports a required server-side setting that is unset. It maps to 500.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return "missing configuration: " + e.Setting
}
