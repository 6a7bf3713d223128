package client

import (
	"net/http"
)

// AuthTransport adds a Bearer session token to every request
type AuthTransport struct {
	Base http.RoundTripper

	// Token is called per request. An empty result sends the request as is.
	Token func() (string, error)
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := ""
	if t.Token != nil {
		var err error
		if token, err = t.Token(); err != nil {
			return nil, err
		}
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// StaticToken returns a Token func that always yields token
func StaticToken(token string) func() (string, error) {
	return func() (string, error) { return token, nil }
}
