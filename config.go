package indieauth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"willnorris.com/go/microformats"
)

// DefaultAuthorizationEndpoint is used when an identity page does not declare
// its own authorization endpoint.
const DefaultAuthorizationEndpoint = "https://indieauth.com/auth"

// ResponseType is sent to the authorization endpoint as "response_type".
type ResponseType string

const (
	// ResponseID asks only for the user's identity to be confirmed.
	ResponseID ResponseType = "id"

	// ResponseCode asks for a code that can be redeemed for an access token.
	ResponseCode ResponseType = "code"
)

// ExchangeMode decides which field of the exchange response is handed to the
// verify callback as its credential.
type ExchangeMode int

const (
	// ExchangeScope reads "scope" from the exchange response.
	ExchangeScope ExchangeMode = iota

	// ExchangeToken reads "access_token" from the exchange response, and sends
	// "grant_type" and "me" along with the code.
	ExchangeToken
)

// ProfileMode decides what the verify callback receives as a profile.
type ProfileMode int

const (
	// ProfileNormalized passes a *Profile built from the identity page's
	// h-card.
	ProfileNormalized ProfileMode = iota

	// ProfileRaw passes the *microformats.Data parsed from the identity page.
	ProfileRaw
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Parser extracts microformats from an identity page. The base URL is used to
// resolve relative links.
type Parser interface {
	Parse(r io.Reader, base *url.URL) (*microformats.Data, error)
}

// VerifyFunc is called once a code has been exchanged. The credential is the
// scope or access token, depending on the ExchangeMode. A nil user with a nil
// error is treated as a failure described by info.
type VerifyFunc func(ctx context.Context, me, credential string, profile any) (user, info any, err error)

// VerifyRequestFunc is a VerifyFunc that also receives the inbound request.
type VerifyRequestFunc func(r *http.Request, me, credential string, profile any) (user, info any, err error)

// Config defines a client that authenticates users with IndieAuth.
type Config struct {
	ClientID    string
	RedirectURL string

	// ResponseType defaults to ResponseID.
	ResponseType ResponseType

	// DefaultAuthorizationEndpoint defaults to the package constant.
	DefaultAuthorizationEndpoint string

	ExchangeMode ExchangeMode
	ProfileMode  ProfileMode

	// PassRequestToCallback selects VerifyRequest instead of Verify.
	PassRequestToCallback bool
	Verify                VerifyFunc
	VerifyRequest         VerifyRequestFunc

	Client  Doer
	Parser  Parser
	Logger  *zap.Logger
	Metrics *Metrics
}

func (c *Config) client() Doer {
	if c.Client != nil {
		return c.Client
	}

	return http.DefaultClient
}

func (c *Config) parser() Parser {
	if c.Parser != nil {
		return c.Parser
	}

	return htmlParser{}
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return zap.NewNop()
}

func (c *Config) defaultAuthorizationEndpoint() string {
	if c.DefaultAuthorizationEndpoint != "" {
		return c.DefaultAuthorizationEndpoint
	}

	return DefaultAuthorizationEndpoint
}

// validate returns a copy of c with defaults applied, or a *ConfigError.
func (c Config) validate() (Config, error) {
	if c.ClientID == "" {
		return c, &ConfigError{Field: "ClientID", Reason: "is required"}
	}
	if !isAbsoluteURL(c.ClientID) {
		return c, &ConfigError{Field: "ClientID", Reason: "must be an absolute URL"}
	}
	c.ClientID = withTrailingSlash(c.ClientID)

	if c.RedirectURL == "" {
		return c, &ConfigError{Field: "RedirectURL", Reason: "is required"}
	}
	if !isAbsoluteURL(c.RedirectURL) {
		return c, &ConfigError{Field: "RedirectURL", Reason: "must be an absolute URL"}
	}

	switch c.ResponseType {
	case "":
		c.ResponseType = ResponseID
	case ResponseID, ResponseCode:
	default:
		return c, &ConfigError{Field: "ResponseType", Reason: `must be "id" or "code"`}
	}

	c.DefaultAuthorizationEndpoint = c.defaultAuthorizationEndpoint()
	if !isAbsoluteURL(c.DefaultAuthorizationEndpoint) {
		return c, &ConfigError{Field: "DefaultAuthorizationEndpoint", Reason: "must be an absolute URL"}
	}

	if c.ExchangeMode != ExchangeScope && c.ExchangeMode != ExchangeToken {
		return c, &ConfigError{Field: "ExchangeMode", Reason: "is not a known mode"}
	}
	if c.ProfileMode != ProfileNormalized && c.ProfileMode != ProfileRaw {
		return c, &ConfigError{Field: "ProfileMode", Reason: "is not a known mode"}
	}

	if c.PassRequestToCallback {
		if c.VerifyRequest == nil {
			return c, &ConfigError{Field: "VerifyRequest", Reason: "is required when PassRequestToCallback is set"}
		}
	} else if c.Verify == nil {
		return c, &ConfigError{Field: "Verify", Reason: "is required"}
	}

	c.Logger = c.logger()

	return c, nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}

	return s + "/"
}
