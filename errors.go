package indieauth

import (
	"errors"
	"fmt"
)

// RequestError is returned when an endpoint responds to a code exchange with
// anything other than a 200.
type RequestError struct {
	StatusCode int
	MediaType  string
	Body       []byte
}

func (e *RequestError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("received a %d (%s) response", e.StatusCode, e.MediaType)
	}

	return string(e.Body)
}

// TransportError wraps a network failure talking to an identity page or an
// endpoint.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError wraps a failure to extract structured data from an identity page.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigError is returned by New when the Config cannot be used.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("indieauth: %s %s", e.Field, e.Reason)
}

type clientError int

func (e clientError) Error() string {
	switch e {
	case ErrMissingRequestParameters:
		return "Missing request parameters"
	case ErrMissingIdentity:
		return `Missing required "me" parameter`
	case ErrMissingCode:
		return `Missing required "code" parameter`
	case ErrMissingEndpoint:
		return "an endpoint is required for verification"
	case ErrEmptyResponse:
		return "identity page returned an empty response"
	case ErrMalformedResponse:
		return "Malformed response from authorization server"
	default:
		panic("missing error definition")
	}
}

const (
	// ErrMissingRequestParameters means the inbound request was neither a GET
	// nor a POST with a readable body.
	ErrMissingRequestParameters clientError = iota

	// ErrMissingIdentity means the inbound request did not carry "me".
	ErrMissingIdentity

	// ErrMissingCode means an exchange was attempted without a code.
	ErrMissingCode

	// ErrMissingEndpoint means an exchange was attempted without an endpoint
	// to send it to.
	ErrMissingEndpoint

	// ErrEmptyResponse means the identity page had no body.
	ErrEmptyResponse

	// ErrMalformedResponse means the exchange endpoint responded with a 200
	// but did not include "me".
	ErrMalformedResponse
)

// IsClientError reports whether err was caused by the caller's request rather
// than by a remote party.
func IsClientError(err error) bool {
	var e clientError
	if !errors.As(err, &e) {
		return false
	}

	switch e {
	case ErrMissingRequestParameters, ErrMissingIdentity, ErrMissingCode:
		return true
	default:
		return false
	}
}
