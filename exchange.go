package indieauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ExchangeRequest holds the per-user values sent with a code. Scope and State
// are only sent when non-empty; Me is only sent in ExchangeToken mode.
type ExchangeRequest struct {
	Code  string
	Scope string
	State string
	Me    string
}

// ExchangeResult is what the endpoint confirmed. Me is authoritative over the
// identity the user originally entered. Depending on the ExchangeMode either
// Scope or Token is read.
type ExchangeResult struct {
	Me    string
	Scope string
	Token string
}

// Credential returns the value handed to the verify callback for mode.
func (r *ExchangeResult) Credential(mode ExchangeMode) string {
	if mode == ExchangeToken {
		return r.Token
	}

	return r.Scope
}

// Exchange redeems a code at endpoint. Before calling this the caller should
// have checked the state parameter returned with the code.
func (c *Config) Exchange(ctx context.Context, endpoint *url.URL, req ExchangeRequest) (result *ExchangeResult, err error) {
	if endpoint == nil {
		return nil, ErrMissingEndpoint
	}
	if req.Code == "" {
		return nil, ErrMissingCode
	}

	start := time.Now()
	defer func() { c.Metrics.observeRequest("exchange", start, err) }()

	form := url.Values{
		"code":         {req.Code},
		"client_id":    {c.ClientID},
		"redirect_uri": {c.RedirectURL},
	}
	if req.Scope != "" {
		form.Set("scope", req.Scope)
	}
	if req.State != "" {
		form.Set("state", req.State)
	}
	if c.ExchangeMode == ExchangeToken {
		form.Set("grant_type", "authorization_code")
		if req.Me != "" {
			form.Set("me", req.Me)
		}
	}

	endpointURL := endpoint.String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpointURL, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json, application/x-www-form-urlencoded")

	c.logger().Debug("exchanging code", zap.String("endpoint", endpointURL))

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpointURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpointURL, Err: err}
	}

	mediatype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			MediaType:  mediatype,
			Body:       data,
		}
	}

	var body struct {
		Me          string `json:"me"`
		Scope       string `json:"scope"`
		AccessToken string `json:"access_token"`
	}

	if mediatype == "application/json" {
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	} else {
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		body.Me = values.Get("me")
		body.Scope = values.Get("scope")
		body.AccessToken = values.Get("access_token")
	}

	if body.Me == "" {
		return nil, ErrMalformedResponse
	}

	result = &ExchangeResult{Me: body.Me}
	if c.ExchangeMode == ExchangeToken {
		result.Token = body.AccessToken
	} else {
		result.Scope = body.Scope
	}

	return result, nil
}
