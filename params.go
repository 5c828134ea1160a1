package indieauth

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// requestParams are the handshake parameters carried by an inbound request.
// Scope has already been joined into a space-separated string.
type requestParams struct {
	Me    string
	Code  string
	Scope string
	State string
	CSRF  string
}

// state prefers an explicit "state" over a "_csrf" token.
func (p requestParams) state() string {
	if p.State != "" {
		return p.State
	}

	return p.CSRF
}

// readParams reads the query of a GET, or the body of a POST. Any other method,
// or a body that cannot be read, is ErrMissingRequestParameters.
func readParams(r *http.Request) (requestParams, error) {
	switch r.Method {
	case http.MethodGet:
		return paramsFromPairs(r.URL.RawQuery)

	case http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			return requestParams{}, ErrMissingRequestParameters
		}

		mediatype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediatype {
		case "application/json":
			return paramsFromJSON(body)
		case "application/x-www-form-urlencoded", "":
			return paramsFromPairs(string(body))
		}
	}

	return requestParams{}, ErrMissingRequestParameters
}

// readBody consumes the body and puts an identical reader back, so the host can
// still read it.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

type pair struct {
	key, value string
}

// splitPairs decodes a urlencoded string keeping the order keys were given in,
// which url.ParseQuery does not.
func splitPairs(raw string) ([]pair, error) {
	var pairs []pair

	for raw != "" {
		var part string
		part, raw, _ = strings.Cut(raw, "&")
		if part == "" {
			continue
		}

		key, value, _ := strings.Cut(part, "=")

		key, err := url.QueryUnescape(key)
		if err != nil {
			return nil, err
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, pair{key, value})
	}

	return pairs, nil
}

// paramsFromPairs reads urlencoded parameters. The first value given for a key
// is used. A list of scopes is given as repeated "scope" or "scope[]" keys, and
// a map of scopes as "scope[name]=true".
func paramsFromPairs(raw string) (requestParams, error) {
	pairs, err := splitPairs(raw)
	if err != nil {
		return requestParams{}, ErrMissingRequestParameters
	}

	var (
		p      requestParams
		scopes []string
		flags  = orderedmap.New[string, any]()
	)

	for _, kv := range pairs {
		if name, ok := scopeKey(kv.key); ok {
			if name == "" || isIndex(name) {
				scopes = append(scopes, kv.value)
			} else {
				flags.Set(name, kv.value)
			}
			continue
		}

		var field *string
		switch kv.key {
		case "me":
			field = &p.Me
		case "code":
			field = &p.Code
		case "state":
			field = &p.State
		case "_csrf":
			field = &p.CSRF
		default:
			continue
		}

		if *field == "" {
			*field = kv.value
		}
	}

	p.Scope = joinScope(scopes, flags)

	return p, nil
}

// scopeKey matches "scope", "scope[]" and "scope[name]", returning name.
func scopeKey(key string) (string, bool) {
	if key == "scope" {
		return "", true
	}

	if strings.HasPrefix(key, "scope[") && strings.HasSuffix(key, "]") {
		return key[len("scope[") : len(key)-1], true
	}

	return "", false
}

func isIndex(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return s != ""
}

func paramsFromJSON(data []byte) (requestParams, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return requestParams{}, nil
	}

	var body struct {
		Me    string          `json:"me"`
		Code  string          `json:"code"`
		State string          `json:"state"`
		CSRF  string          `json:"_csrf"`
		Scope json.RawMessage `json:"scope"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return requestParams{}, ErrMissingRequestParameters
	}

	return requestParams{
		Me:    body.Me,
		Code:  body.Code,
		State: body.State,
		CSRF:  body.CSRF,
		Scope: scopeFromJSON(body.Scope),
	}, nil
}

// scopeFromJSON accepts a string, an array of strings, or an object of flags.
func scopeFromJSON(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return joinScope([]string{s}, nil)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return joinScope(list, nil)
	}

	flags := orderedmap.New[string, any]()
	if err := json.Unmarshal(raw, flags); err == nil {
		return joinScope(nil, flags)
	}

	return ""
}

// joinScope normalises the accepted scope shapes to a single space-separated
// string: list entries are split on whitespace, and flags contribute their
// name when set.
func joinScope(list []string, flags *orderedmap.OrderedMap[string, any]) string {
	var scopes []string

	for _, s := range list {
		scopes = append(scopes, strings.Fields(s)...)
	}

	if flags != nil {
		for p := flags.Oldest(); p != nil; p = p.Next() {
			if truthy(p.Value) {
				scopes = append(scopes, p.Key)
			}
		}
	}

	return strings.Join(scopes, " ")
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "", "0", "false", "off", "no":
			return false
		}
		return true
	case float64:
		return v != 0
	default:
		return true
	}
}
