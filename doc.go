/*
Package indieauth authenticates users with IndieAuth

A user signs in by giving the URL of their website. The site declares an
authorization endpoint, and that endpoint is trusted to say whether the person
in front of the browser owns the URL. A Strategy runs both halves of that
handshake from within a single handler.

Configuration

First of all you will need to describe your client, and say what should happen
once an identity is confirmed.

    strategy, err := indieauth.New(indieauth.Config{
      ClientID:    "https://client.example.com/",
      RedirectURL: "https://client.example.com/callback",
      Verify: func(ctx context.Context, me, scope string, profile any) (any, any, error) {
        if me != "https://me.example.com/" {
          return nil, "you are not me", nil
        }

        return me, nil, nil
      },
    })

Returning a nil user refuses the sign-in, and whatever is returned as info is
used to describe the failure. Returning an error means something went wrong.

Signing in

The same handler is used for the sign-in form and for the callback. A request
with only "me" produces a Redirect to the user's authorization endpoint. When
the user comes back a request with "me" and "code" has the code checked, and
the verify callback is called.

    func Handler(w http.ResponseWriter, r *http.Request) {
      switch o := strategy.Authenticate(r).(type) {
      case indieauth.Redirect:
        http.Redirect(w, r, o.URL, o.Status)
      case indieauth.Success:
        fmt.Fprintf(w, "Hello %v\n", o.Me)
      case indieauth.Fail:
        http.Error(w, o.Message, o.Status)
      case indieauth.Error:
        http.Error(w, "something went wrong", http.StatusBadGateway)
      }
    }

Any "scope" given is sent on to the authorization endpoint, as is "state" (or
"_csrf" when there is no "state"). Checking the state that comes back is left
to the caller; see the sessions package for a way of doing that.

Tokens

Setting ExchangeMode to ExchangeToken will redeem the code at the user's token
endpoint, and the verify callback will receive the access token instead of the
scope. This is usually paired with ResponseCode.

Profiles

The verify callback is given a *Profile built from the first h-card on the
user's page. Set ProfileMode to ProfileRaw to receive the parsed
*microformats.Data instead.

Further Reading

Spec: https://indieauth.spec.indieweb.org/
*/
package indieauth
