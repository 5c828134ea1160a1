package indieauth

import (
	"net/url"
)

// AuthRequest holds the per-user values sent to the authorization endpoint.
// Scope and State are omitted from the URL when empty.
type AuthRequest struct {
	Me    string
	Scope string
	State string
}

// AuthCodeURL returns a URL to the authorization endpoint. Any query already
// present on the endpoint is kept.
func (c *Config) AuthCodeURL(endpoint *url.URL, req AuthRequest) string {
	responseType := c.ResponseType
	if responseType == "" {
		responseType = ResponseID
	}

	redirectURL := *endpoint
	form := redirectURL.Query()
	form.Set("me", req.Me)
	form.Set("client_id", c.ClientID)
	form.Set("redirect_uri", c.RedirectURL)
	form.Set("response_type", string(responseType))

	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}
	if req.State != "" {
		form.Set("state", req.State)
	}

	redirectURL.RawQuery = form.Encode()

	return redirectURL.String()
}
