package indieauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"hawx.me/code/assert"
	"willnorris.com/go/microformats"
)

const (
	testClientID    = "https://example-client.com"
	testRedirectURL = "https://example-client.com/auth"
)

type testMeEndpoint struct {
	auth  string
	token string
}

func (e *testMeEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><head>`)
	if e.auth != "" {
		fmt.Fprintf(w, `<link rel="authorization_endpoint" href="%s"/>`, e.auth)
	}
	if e.token != "" {
		fmt.Fprintf(w, `<link rel="token_endpoint" href="%s"/>`, e.token)
	}
	fmt.Fprint(w, `</head><body>
<div class="h-card">
  <a class="p-name u-url" href="/">John Doe</a>
  <a class="u-email" href="mailto:john@example.com">email</a>
</div>
</body></html>`)
}

type verifyCall struct {
	me         string
	credential string
	profile    any
}

type verifyRecorder struct {
	mu    sync.Mutex
	calls []verifyCall
}

func (v *verifyRecorder) verify(ctx context.Context, me, credential string, profile any) (any, any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, verifyCall{me, credential, profile})
	return map[string]string{"me": me}, "welcome", nil
}

func newTestStrategy(t *testing.T, config Config) *Strategy {
	if config.ClientID == "" {
		config.ClientID = testClientID
	}
	if config.RedirectURL == "" {
		config.RedirectURL = testRedirectURL
	}

	strategy, err := New(config)
	if err != nil {
		t.Fatal(err)
	}

	return strategy
}

func postForm(target, body string) *http.Request {
	r := httptest.NewRequest("POST", target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestNew(t *testing.T) {
	assert := assert.Wrap(t)

	strategy, err := New(Config{
		ClientID:    testClientID,
		RedirectURL: testRedirectURL,
		Verify:      (&verifyRecorder{}).verify,
	})
	assert(err).Must.Nil()

	assert(strategy.Name()).Equal("indieauth")
	assert(strategy.Config().ClientID).Equal(testClientID + "/")
	assert(strategy.Config().ResponseType).Equal(ResponseID)
	assert(strategy.Config().DefaultAuthorizationEndpoint).Equal("https://indieauth.com/auth")
}

func TestNewWithBadConfig(t *testing.T) {
	verify := (&verifyRecorder{}).verify

	testCases := []struct {
		Name   string
		Config Config
		Field  string
	}{
		{
			Name:   "missing client id",
			Config: Config{RedirectURL: testRedirectURL, Verify: verify},
			Field:  "ClientID",
		},
		{
			Name:   "relative client id",
			Config: Config{ClientID: "/client", RedirectURL: testRedirectURL, Verify: verify},
			Field:  "ClientID",
		},
		{
			Name:   "missing redirect url",
			Config: Config{ClientID: testClientID, Verify: verify},
			Field:  "RedirectURL",
		},
		{
			Name:   "unknown response type",
			Config: Config{ClientID: testClientID, RedirectURL: testRedirectURL, ResponseType: "token", Verify: verify},
			Field:  "ResponseType",
		},
		{
			Name:   "relative default endpoint",
			Config: Config{ClientID: testClientID, RedirectURL: testRedirectURL, DefaultAuthorizationEndpoint: "/auth", Verify: verify},
			Field:  "DefaultAuthorizationEndpoint",
		},
		{
			Name:   "unknown exchange mode",
			Config: Config{ClientID: testClientID, RedirectURL: testRedirectURL, ExchangeMode: 5, Verify: verify},
			Field:  "ExchangeMode",
		},
		{
			Name:   "unknown profile mode",
			Config: Config{ClientID: testClientID, RedirectURL: testRedirectURL, ProfileMode: 5, Verify: verify},
			Field:  "ProfileMode",
		},
		{
			Name:   "missing verify",
			Config: Config{ClientID: testClientID, RedirectURL: testRedirectURL},
			Field:  "Verify",
		},
		{
			Name:   "missing verify request",
			Config: Config{ClientID: testClientID, RedirectURL: testRedirectURL, PassRequestToCallback: true, Verify: verify},
			Field:  "VerifyRequest",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			assert := assert.Wrap(t)

			strategy, err := New(tc.Config)
			assert(strategy).Nil()

			var configErr *ConfigError
			assert(errors.As(err, &configErr)).Must.True()
			assert(configErr.Field).Equal(tc.Field)
		})
	}
}

func TestAuthenticateRedirect(t *testing.T) {
	assert := assert.Wrap(t)

	authEndpoint := "https://example-auth-endpoint.com/head/auth"

	me := httptest.NewServer(&testMeEndpoint{auth: authEndpoint})
	defer me.Close()

	verify := &verifyRecorder{}
	strategy := newTestStrategy(t, Config{Verify: verify.verify})

	outcome := strategy.Authenticate(postForm("/", "me="+me.URL+"/"))

	redirect, ok := outcome.(Redirect)
	assert(ok).Must.True()
	assert(redirect.Status).Equal(http.StatusFound)

	redirectURL := urlParse(redirect.URL)
	query := redirectURL.Query()
	redirectURL.RawQuery = ""

	assert(redirectURL.String()).Equal(authEndpoint)
	assert(query.Get("me")).Equal(me.URL + "/")
	assert(query.Get("client_id")).Equal(testClientID + "/")
	assert(query.Get("redirect_uri")).Equal(testRedirectURL)
	assert(query.Get("response_type")).Equal("id")
	assert(query).Len(4)

	assert(verify.calls).Len(0)
}

func TestAuthenticateRedirectNormalizesMe(t *testing.T) {
	assert := assert.Wrap(t)

	me := httptest.NewServer(&testMeEndpoint{auth: "https://auth.example.com/"})
	defer me.Close()

	strategy := newTestStrategy(t, Config{Verify: (&verifyRecorder{}).verify})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?me="+me.URL, nil))

	redirect, ok := outcome.(Redirect)
	assert(ok).Must.True()
	assert(urlParse(redirect.URL).Query().Get("me")).Equal(me.URL + "/")
}

func TestAuthenticateRedirectEndpoints(t *testing.T) {
	auth := "https://auth.example.com/auth"
	token := "https://token.example.com/token"
	fallback := "https://fallback.example.com/auth"

	testCases := []struct {
		Name     string
		Endpoint *testMeEndpoint
		Expected string
	}{
		{
			Name:     "no endpoints",
			Endpoint: &testMeEndpoint{},
			Expected: fallback,
		},
		{
			Name:     "only authorization endpoint",
			Endpoint: &testMeEndpoint{auth: auth},
			Expected: auth,
		},
		{
			Name:     "both endpoints",
			Endpoint: &testMeEndpoint{auth: auth, token: token},
			Expected: auth,
		},
		{
			Name:     "only token endpoint",
			Endpoint: &testMeEndpoint{token: token},
			Expected: fallback,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			assert := assert.Wrap(t)

			me := httptest.NewServer(tc.Endpoint)
			defer me.Close()

			strategy := newTestStrategy(t, Config{
				DefaultAuthorizationEndpoint: fallback,
				Verify:                       (&verifyRecorder{}).verify,
			})

			outcome := strategy.Authenticate(postForm("/", "me="+me.URL))

			redirect, ok := outcome.(Redirect)
			assert(ok).Must.True()

			redirectURL := urlParse(redirect.URL)
			redirectURL.RawQuery = ""
			assert(redirectURL.String()).Equal(tc.Expected)
		})
	}
}

func TestAuthenticateRedirectScopeAndState(t *testing.T) {
	me := httptest.NewServer(&testMeEndpoint{auth: "https://auth.example.com/"})
	defer me.Close()

	strategy := newTestStrategy(t, Config{Verify: (&verifyRecorder{}).verify})

	testCases := []struct {
		Name  string
		Body  string
		Scope string
		State string
	}{
		{
			Name: "neither",
			Body: "me=" + me.URL,
		},
		{
			Name:  "scope string",
			Body:  "me=" + me.URL + "&scope=post+edit",
			Scope: "post edit",
		},
		{
			Name:  "scope list",
			Body:  "me=" + me.URL + "&scope=post&scope=edit",
			Scope: "post edit",
		},
		{
			Name:  "scope map",
			Body:  "me=" + me.URL + "&scope[post]=true&scope[edit]=true",
			Scope: "post edit",
		},
		{
			Name:  "csrf",
			Body:  "me=" + me.URL + "&_csrf=abc",
			State: "abc",
		},
		{
			Name:  "state",
			Body:  "me=" + me.URL + "&state=abc",
			State: "abc",
		},
		{
			Name:  "state beats csrf",
			Body:  "me=" + me.URL + "&_csrf=def&state=abc",
			State: "abc",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			assert := assert.Wrap(t)

			outcome := strategy.Authenticate(postForm("/", tc.Body))

			redirect, ok := outcome.(Redirect)
			assert(ok).Must.True()

			query := urlParse(redirect.URL).Query()

			scope, hasScope := query["scope"]
			assert(hasScope).Equal(tc.Scope != "")
			if hasScope {
				assert(scope).Equal([]string{tc.Scope})
			}

			state, hasState := query["state"]
			assert(hasState).Equal(tc.State != "")
			if hasState {
				assert(state).Equal([]string{tc.State})
			}
		})
	}
}

func TestAuthenticateMissingMe(t *testing.T) {
	strategy := newTestStrategy(t, Config{Verify: (&verifyRecorder{}).verify})

	testCases := map[string]*http.Request{
		"empty get":      httptest.NewRequest("GET", "/", nil),
		"get with code":  httptest.NewRequest("GET", "/?code=1234", nil),
		"empty post":     postForm("/", ""),
		"post with code": postForm("/", "code=1234"),
	}

	for name, r := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.Wrap(t)

			outcome := strategy.Authenticate(r)

			assert(outcome).Equal(Fail{
				Message: `Missing required "me" parameter`,
				Status:  http.StatusBadRequest,
			})
		})
	}
}

func TestAuthenticateMissingRequestParameters(t *testing.T) {
	assert := assert.Wrap(t)

	strategy := newTestStrategy(t, Config{Verify: (&verifyRecorder{}).verify})

	outcome := strategy.Authenticate(httptest.NewRequest("PUT", "/?me=https://me.example.com", nil))

	assert(outcome).Equal(Fail{
		Message: "Missing request parameters",
		Status:  http.StatusBadRequest,
	})
}

func TestAuthenticateDiscoveryError(t *testing.T) {
	assert := assert.Wrap(t)

	me := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	me.Close()

	strategy := newTestStrategy(t, Config{Verify: (&verifyRecorder{}).verify})

	outcome := strategy.Authenticate(postForm("/", "me="+me.URL))

	errOutcome, ok := outcome.(Error)
	assert(ok).Must.True()

	var transportErr *TransportError
	assert(errors.As(errOutcome, &transportErr)).True()
}

func TestAuthenticateVerified(t *testing.T) {
	assert := assert.Wrap(t)

	var me *httptest.Server

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok := r.FormValue("code") == "1234" &&
			r.FormValue("client_id") == testClientID+"/" &&
			r.FormValue("redirect_uri") == testRedirectURL

		if !ok {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		fmt.Fprintf(w, "me=%s/&scope=%s", me.URL, r.FormValue("scope"))
	}))
	defer auth.Close()

	me = httptest.NewServer(&testMeEndpoint{auth: auth.URL})
	defer me.Close()

	verify := &verifyRecorder{}
	strategy := newTestStrategy(t, Config{Verify: verify.verify})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&scope=post+edit&me="+me.URL+"/", nil))

	assert(outcome).Equal(Success{
		Me:   me.URL + "/",
		User: map[string]string{"me": me.URL + "/"},
		Info: "welcome",
	})

	assert(verify.calls).Must.Len(1)
	call := verify.calls[0]
	assert(call.me).Equal(me.URL + "/")
	assert(call.credential).Equal("post edit")

	profile, ok := call.profile.(*Profile)
	assert(ok).Must.True()
	assert(profile.Provider).Equal("indieauth")
	assert(profile.Name).Equal(&Name{Formatted: "John Doe"})
	assert(profile.Emails).Equal([]Value{{Value: "mailto:john@example.com"}})
	assert(profile.URLs).Equal([]Value{{Value: me.URL + "/"}})
	assert(profile.Raw.Rels["authorization_endpoint"]).Len(1)
}

func TestAuthenticateExchangesWithTokenEndpoint(t *testing.T) {
	assert := assert.Wrap(t)

	var me *httptest.Server

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("authorization endpoint should not be called")
		http.Error(w, "", http.StatusInternalServerError)
	}))
	defer auth.Close()

	var tokenCalls int
	token := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		fmt.Fprintf(w, "me=%s/", me.URL)
	}))
	defer token.Close()

	me = httptest.NewServer(&testMeEndpoint{auth: auth.URL, token: token.URL})
	defer me.Close()

	strategy := newTestStrategy(t, Config{Verify: (&verifyRecorder{}).verify})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil))

	_, ok := outcome.(Success)
	assert(ok).True()
	assert(tokenCalls).Equal(1)
}

func TestAuthenticateExchangesWithDefaultEndpoint(t *testing.T) {
	assert := assert.Wrap(t)

	var me *httptest.Server

	var fallbackCalls int
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls++
		fmt.Fprintf(w, "me=%s/", me.URL)
	}))
	defer fallback.Close()

	token := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("orphan token endpoint should not be called")
	}))
	defer token.Close()

	me = httptest.NewServer(&testMeEndpoint{token: token.URL})
	defer me.Close()

	strategy := newTestStrategy(t, Config{
		DefaultAuthorizationEndpoint: fallback.URL,
		Verify:                       (&verifyRecorder{}).verify,
	})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil))

	_, ok := outcome.(Success)
	assert(ok).True()
	assert(fallbackCalls).Equal(1)
}

func TestAuthenticateUpstreamError(t *testing.T) {
	assert := assert.Wrap(t)

	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer auth.Close()

	me := httptest.NewServer(&testMeEndpoint{auth: auth.URL})
	defer me.Close()

	verify := &verifyRecorder{}
	strategy := newTestStrategy(t, Config{Verify: verify.verify})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil))

	errOutcome, ok := outcome.(Error)
	assert(ok).Must.True()

	var reqErr *RequestError
	assert(errors.As(errOutcome, &reqErr)).Must.True()
	assert(reqErr.StatusCode).Equal(http.StatusForbidden)
	assert(verify.calls).Len(0)
}

func TestAuthenticateVerifyRefuses(t *testing.T) {
	assert := assert.Wrap(t)

	var me *httptest.Server
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "me=%s/", me.URL)
	}))
	defer auth.Close()

	me = httptest.NewServer(&testMeEndpoint{auth: auth.URL})
	defer me.Close()

	strategy := newTestStrategy(t, Config{
		Verify: func(ctx context.Context, me, credential string, profile any) (any, any, error) {
			return nil, map[string]string{"message": "not on the guest list"}, nil
		},
	})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil))

	assert(outcome).Equal(Fail{
		Message: "not on the guest list",
		Status:  http.StatusUnauthorized,
		Info:    map[string]string{"message": "not on the guest list"},
	})
}

func TestAuthenticateVerifyErrors(t *testing.T) {
	var me *httptest.Server
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "me=%s/", me.URL)
	}))
	defer auth.Close()

	me = httptest.NewServer(&testMeEndpoint{auth: auth.URL})
	defer me.Close()

	verifyErr := errors.New("database is down")

	testCases := map[string]VerifyFunc{
		"error": func(ctx context.Context, me, credential string, profile any) (any, any, error) {
			return nil, nil, verifyErr
		},
		"panic": func(ctx context.Context, me, credential string, profile any) (any, any, error) {
			panic("oops")
		},
	}

	for name, verify := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.Wrap(t)

			strategy := newTestStrategy(t, Config{Verify: verify})

			outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil))

			_, ok := outcome.(Error)
			assert(ok).True()
		})
	}
}

func TestAuthenticateRawProfileWithToken(t *testing.T) {
	assert := assert.Wrap(t)

	var me *httptest.Server
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"me": "%s/", "access_token": "abcd", "scope": "post"}`, me.URL)
	}))
	defer auth.Close()

	me = httptest.NewServer(&testMeEndpoint{auth: auth.URL})
	defer me.Close()

	verify := &verifyRecorder{}
	strategy := newTestStrategy(t, Config{
		ExchangeMode: ExchangeToken,
		ProfileMode:  ProfileRaw,
		Verify:       verify.verify,
	})

	outcome := strategy.Authenticate(httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil))

	_, ok := outcome.(Success)
	assert(ok).Must.True()
	assert(verify.calls).Must.Len(1)
	assert(verify.calls[0].credential).Equal("abcd")

	data, ok := verify.calls[0].profile.(*microformats.Data)
	assert(ok).Must.True()
	assert(data.Rels["authorization_endpoint"]).Len(1)
}

func TestAuthenticatePassesRequest(t *testing.T) {
	assert := assert.Wrap(t)

	var me *httptest.Server
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "me=%s/", me.URL)
	}))
	defer auth.Close()

	me = httptest.NewServer(&testMeEndpoint{auth: auth.URL})
	defer me.Close()

	req := httptest.NewRequest("GET", "/?code=1234&me="+me.URL, nil)

	var received *http.Request
	strategy := newTestStrategy(t, Config{
		PassRequestToCallback: true,
		VerifyRequest: func(r *http.Request, me, credential string, profile any) (any, any, error) {
			received = r
			return me, nil, nil
		},
	})

	outcome := strategy.Authenticate(req)

	assert(outcome).Equal(Success{Me: me.URL + "/", User: me.URL + "/"})
	assert(received == req).True()
}

func TestAuthenticateConcurrently(t *testing.T) {
	assert := assert.Wrap(t)

	verify := &verifyRecorder{}
	strategy := newTestStrategy(t, Config{Verify: verify.verify})

	const users = 8

	var servers []*httptest.Server
	for i := 0; i < users; i++ {
		var me *httptest.Server
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "me=%s/&scope=%s", me.URL, r.FormValue("scope"))
		}))
		me = httptest.NewServer(&testMeEndpoint{auth: auth.URL})
		servers = append(servers, me, auth)
		defer auth.Close()
		defer me.Close()
	}

	outcomes := make([]Outcome, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			me := servers[i*2].URL
			outcomes[i] = strategy.Authenticate(httptest.NewRequest("GET", fmt.Sprintf("/?code=c&scope=s%d&me=%s", i, me), nil))
		}(i)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		success, ok := outcome.(Success)
		assert(ok).Must.True()
		assert(success.Me).Equal(servers[i*2].URL + "/")
	}

	assert(verify.calls).Len(users)
	for _, call := range verify.calls {
		assert(strings.HasSuffix(call.me, "/")).True()
		assert(strings.HasPrefix(call.credential, "s")).True()
	}
}
