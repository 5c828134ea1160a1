package indieauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Strategy authenticates inbound requests. It holds only configuration, so a
// single Strategy can serve any number of concurrent requests.
type Strategy struct {
	config      Config
	defaultAuth *url.URL
}

// New validates config and returns a Strategy using it. ClientID is given a
// trailing slash if it does not have one. Any problem is a *ConfigError.
func New(config Config) (*Strategy, error) {
	config, err := config.validate()
	if err != nil {
		return nil, err
	}

	defaultAuth, err := url.Parse(config.DefaultAuthorizationEndpoint)
	if err != nil {
		return nil, &ConfigError{Field: "DefaultAuthorizationEndpoint", Reason: err.Error()}
	}

	return &Strategy{
		config:      config,
		defaultAuth: defaultAuth,
	}, nil
}

// Name returns "indieauth".
func (s *Strategy) Name() string { return Provider }

// Config returns a copy of the validated configuration.
func (s *Strategy) Config() Config { return s.config }

// Authenticate runs one step of the handshake for r.
//
// A request carrying only "me" results in a Redirect to the user's
// authorization endpoint. A request carrying "me" and "code" has the code
// exchanged, and the confirmed identity passed to the verify callback, which
// decides between Success and Fail.
func (s *Strategy) Authenticate(r *http.Request) Outcome {
	outcome := s.authenticate(r)
	s.config.Metrics.observeOutcome(outcome)

	switch o := outcome.(type) {
	case Fail:
		s.config.Logger.Warn("authentication failed",
			zap.String("message", o.Message),
			zap.Int("status", o.Status))
	case Error:
		s.config.Logger.Warn("authentication errored", zap.Error(o.Err))
	}

	return outcome
}

func (s *Strategy) authenticate(r *http.Request) Outcome {
	ctx := r.Context()

	params, err := readParams(r)
	if err != nil {
		return failure(err)
	}
	if params.Me == "" {
		return failure(ErrMissingIdentity)
	}

	me := withTrailingSlash(params.Me)

	data, err := s.config.Discover(ctx, me)
	if err != nil {
		return failure(err)
	}

	endpoints := ResolveEndpoints(data, s.defaultAuth)
	s.config.Logger.Debug("resolved endpoints",
		zap.String("me", me),
		zap.String("authorization_endpoint", urlString(endpoints.Authorization)),
		zap.String("token_endpoint", urlString(endpoints.Token)))

	if params.Code == "" {
		return Redirect{
			URL: s.config.AuthCodeURL(endpoints.Authorization, AuthRequest{
				Me:    me,
				Scope: params.Scope,
				State: params.state(),
			}),
			Status: http.StatusFound,
		}
	}

	result, err := s.config.Exchange(ctx, endpoints.exchangeTarget(), ExchangeRequest{
		Code:  params.Code,
		Scope: params.Scope,
		State: params.state(),
		Me:    me,
	})
	if err != nil {
		return failure(err)
	}

	var profile any
	if s.config.ProfileMode == ProfileRaw {
		profile = data
	} else {
		profile = ToProfile(data)
	}

	return s.verify(ctx, r, result.Me, result.Credential(s.config.ExchangeMode), profile)
}

func (s *Strategy) verify(ctx context.Context, r *http.Request, me, credential string, profile any) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			outcome = Error{Err: fmt.Errorf("verify callback panicked: %v", p)}
		}
	}()

	var (
		user, info any
		err        error
	)
	if s.config.PassRequestToCallback {
		user, info, err = s.config.VerifyRequest(r, me, credential, profile)
	} else {
		user, info, err = s.config.Verify(ctx, me, credential, profile)
	}

	if err != nil {
		return Error{Err: err}
	}
	if user == nil {
		return Fail{Message: infoMessage(info), Status: http.StatusUnauthorized, Info: info}
	}

	return Success{Me: me, User: user, Info: info}
}

// failure converts an error into a Fail when the caller is to blame, otherwise
// an Error.
func failure(err error) Outcome {
	if IsClientError(err) {
		return Fail{Message: err.Error(), Status: http.StatusBadRequest}
	}

	return Error{Err: err}
}

func infoMessage(info any) string {
	switch v := info.(type) {
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case map[string]string:
		return v["message"]
	case map[string]any:
		s, _ := v["message"].(string)
		return s
	default:
		return ""
	}
}
