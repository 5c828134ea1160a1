package indieauth

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"willnorris.com/go/microformats"
)

// Endpoints are the services an identity delegates to. Token is only set when
// Authorization was discovered on the same page.
type Endpoints struct {
	Authorization *url.URL
	Token         *url.URL
}

// Discover fetches the identity page for 'me' and returns the microformats it
// declares. Relations declared in Link headers come before those in the page.
func (c *Config) Discover(ctx context.Context, me string) (data *microformats.Data, err error) {
	fetchURL := strings.TrimRight(me, "/")

	start := time.Now()
	defer func() { c.Metrics.observeRequest("discover", start, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "GET", URL: fetchURL, Err: err}
	}
	req.Header.Set("Accept", "text/html")

	c.logger().Debug("fetching identity page", zap.String("url", fetchURL))

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, &TransportError{Op: "GET", URL: fetchURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "GET", URL: fetchURL, Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}

	base := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	data, err = c.parser().Parse(bytes.NewReader(body), base)
	if err != nil {
		return nil, &ParseError{URL: fetchURL, Err: err}
	}

	mergeHeaderLinks(data, resp.Header.Values("Link"), base)

	return data, nil
}

// FindEndpoints discovers the endpoints for 'me', falling back to the default
// authorization endpoint when the page declares none.
func (c *Config) FindEndpoints(ctx context.Context, me string) (Endpoints, error) {
	data, err := c.Discover(ctx, me)
	if err != nil {
		return Endpoints{}, err
	}

	defaultAuth, err := url.Parse(c.defaultAuthorizationEndpoint())
	if err != nil {
		return Endpoints{}, err
	}

	return ResolveEndpoints(data, defaultAuth), nil
}

// ResolveEndpoints reads the first "authorization_endpoint" and
// "token_endpoint" relations from data. If no authorization endpoint is
// declared defaultAuth is used, and any token endpoint is ignored.
func ResolveEndpoints(data *microformats.Data, defaultAuth *url.URL) Endpoints {
	auth := firstRel(data, "authorization_endpoint")
	if auth == nil {
		return Endpoints{Authorization: defaultAuth}
	}

	return Endpoints{
		Authorization: auth,
		Token:         firstRel(data, "token_endpoint"),
	}
}

func firstRel(data *microformats.Data, rel string) *url.URL {
	if data == nil {
		return nil
	}

	links := data.Rels[rel]
	if len(links) == 0 {
		return nil
	}

	linkURL, err := url.Parse(links[0])
	if err != nil || linkURL.Scheme == "" || linkURL.Host == "" {
		return nil
	}

	return linkURL
}

// exchangeTarget is the endpoint a code is redeemed at.
func (e Endpoints) exchangeTarget() *url.URL {
	if e.Token != nil {
		return e.Token
	}

	return e.Authorization
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}

	return u.String()
}
