// Package sessions implements some helpers for getting started with indieauth.
//
// This is basically a wrapper for gorilla/sessions, some handlers for sign-in,
// callback and sign-out, and a couple of handlers for protecting routes. Who is
// allowed to sign in is decided by the verify callback of the Strategy.
package sessions

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"hawx.me/code/indieauth-strategy"
)

const sessionName = "indieauth"

// Sessions provides some handlers for authenticating users with indieauth.
type Sessions struct {
	store    sessions.Store
	strategy *indieauth.Strategy
	logger   *zap.Logger
	// Handler to use when Shield fails
	DefaultSignedOut http.Handler
	// Path to redirect to on sign-in/out
	Root string
}

// New creates a new Sessions that uses cookies to store the current user. The
// secret should be 32 or 64 bytes base64 encoded.
func New(secret string, strategy *indieauth.Strategy) (*Sessions, error) {
	if strategy == nil {
		return nil, errors.New("strategy must be non-nil")
	}

	byteSecret, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, err
	}

	return &Sessions{
		store:            sessions.NewCookieStore(byteSecret),
		strategy:         strategy,
		logger:           strategy.Config().Logger.Named("sessions"),
		DefaultSignedOut: http.NotFoundHandler(),
		Root:             "/",
	}, nil
}

// SignedIn returns the identity for the current session, if signed in.
func (s *Sessions) SignedIn(r *http.Request) (string, bool) {
	me := s.get(r, "me")
	return me, me != ""
}

// Choose allows you to switch between two handlers depending on whether a user
// is signed in or not.
func (s *Sessions) Choose(signedIn, signedOut http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.SignedIn(r); ok {
			signedIn.ServeHTTP(w, r)
		} else {
			signedOut.ServeHTTP(w, r)
		}
	}
}

// Shield will let the request continue if a user is signed in, otherwise they
// will be shown the DefaultSignedOut handler.
func (s *Sessions) Shield(signedIn http.Handler) http.HandlerFunc {
	return s.Choose(signedIn, s.DefaultSignedOut)
}

// SignIn should be assigned to a route like /sign-in, it expects a "me"
// parameter and redirects users to their authorization endpoint.
func (s *Sessions) SignIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.NewString()

		r, err := withParam(r, "state", state)
		if err != nil {
			http.Error(w, "could not start auth", http.StatusBadRequest)
			return
		}

		outcome := s.strategy.Authenticate(r)

		redirect, ok := outcome.(indieauth.Redirect)
		if !ok {
			s.Respond(w, r, outcome)
			return
		}

		redirectURL, err := url.Parse(redirect.URL)
		if err != nil {
			http.Error(w, "could not start auth", http.StatusInternalServerError)
			return
		}

		err = s.set(w, r, map[interface{}]interface{}{
			"state":   state,
			"pending": redirectURL.Query().Get("me"),
		})
		if err != nil {
			s.logger.Error("could not save session", zap.Error(err))
			http.Error(w, "could not start auth", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, redirect.URL, redirect.Status)
	}
}

// Callback should be assigned to the RedirectURL you configured for the
// Strategy.
func (s *Sessions) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		state := s.get(r, "state")
		if state == "" || query.Get("state") != state {
			http.Error(w, "state is bad", http.StatusBadRequest)
			return
		}

		if query.Get("me") == "" {
			r, _ = withParam(r, "me", s.get(r, "pending"))
		}

		outcome := s.strategy.Authenticate(r)

		success, ok := outcome.(indieauth.Success)
		if !ok {
			// a state is only good for one attempt
			if err := s.set(w, r, map[interface{}]interface{}{}); err != nil {
				s.logger.Error("could not clear session", zap.Error(err))
			}
			s.Respond(w, r, outcome)
			return
		}

		if err := s.set(w, r, map[interface{}]interface{}{"me": success.Me}); err != nil {
			s.logger.Error("could not save session", zap.Error(err))
			http.Error(w, "could not sign in", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, s.Root, http.StatusFound)
	}
}

// SignOut will remove the session cookie for the user.
func (s *Sessions) SignOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.set(w, r, map[interface{}]interface{}{}); err != nil {
			s.logger.Error("could not save session", zap.Error(err))
		}

		http.Redirect(w, r, s.Root, http.StatusFound)
	}
}

// Respond writes outcome to w. A Success is sent back to Root.
func (s *Sessions) Respond(w http.ResponseWriter, r *http.Request, outcome indieauth.Outcome) {
	switch o := outcome.(type) {
	case indieauth.Redirect:
		http.Redirect(w, r, o.URL, o.Status)

	case indieauth.Success:
		http.Redirect(w, r, s.Root, http.StatusFound)

	case indieauth.Fail:
		message := o.Message
		if message == "" {
			message = http.StatusText(o.Status)
		}
		http.Error(w, message, o.Status)

	case indieauth.Error:
		var (
			reqErr       *indieauth.RequestError
			transportErr *indieauth.TransportError
			parseErr     *indieauth.ParseError
		)
		if errors.As(o, &reqErr) || errors.As(o, &transportErr) || errors.As(o, &parseErr) {
			http.Error(w, "authorization server failed", http.StatusBadGateway)
			return
		}
		http.Error(w, "something went wrong", http.StatusInternalServerError)

	default:
		http.Error(w, "something went wrong", http.StatusInternalServerError)
	}
}

func (s *Sessions) get(r *http.Request, key string) string {
	session, _ := s.store.Get(r, sessionName)
	v, _ := session.Values[key].(string)

	return v
}

func (s *Sessions) set(w http.ResponseWriter, r *http.Request, values map[interface{}]interface{}) error {
	session, _ := s.store.Get(r, sessionName)
	session.Values = values

	return session.Save(r, w)
}

// withParam returns a copy of r with key set to value ahead of any existing
// parameters, so that it takes precedence.
func withParam(r *http.Request, key, value string) (*http.Request, error) {
	if r.Method != http.MethodPost {
		r = r.Clone(r.Context())
		pair := url.Values{key: {value}}.Encode()
		if r.URL.RawQuery == "" {
			r.URL.RawQuery = pair
		} else {
			r.URL.RawQuery = pair + "&" + r.URL.RawQuery
		}
		return r, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var fields map[string]interface{}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, err
			}
		}
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields[key] = value

		if body, err = json.Marshal(fields); err != nil {
			return nil, err
		}
	} else {
		pair := url.Values{key: {value}}.Encode()
		if len(body) > 0 {
			pair += "&"
		}
		body = append([]byte(pair), body...)
	}

	r = r.Clone(r.Context())
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	return r, nil
}
