// Package oauth2 adapts OAuth2 identity providers to recipeauth.IdentityProvider.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	ra "github.com/panyam/recipeauth"
)

// DefaultTimeout bounds the token exchange and profile requests
const DefaultTimeout = 15 * time.Second

// Credentials identify this application to a provider
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type profileFetcher func(ctx context.Context, p *Provider, token *oauth2.Token) (*ra.OAuthProfile, error)

// Provider is an authorization code flow client for one provider.
type Provider struct {
	name        string
	oauthConfig oauth2.Config
	authOptions []oauth2.AuthCodeOption
	fetch       profileFetcher

	// UserInfoURL is where the profile is read from. Can be overridden for testing.
	UserInfoURL string

	// HTTPClient is used for both the token exchange and the profile fetch
	HTTPClient *http.Client
}

func newProvider(name string, creds Credentials, endpoint oauth2.Endpoint, scopes []string, userInfoURL string, fetch profileFetcher) *Provider {
	return &Provider{
		name: name,
		oauthConfig: oauth2.Config{
			ClientID:     strings.TrimSpace(creds.ClientID),
			ClientSecret: strings.TrimSpace(creds.ClientSecret),
			RedirectURL:  strings.TrimSpace(creds.RedirectURL),
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		fetch:       fetch,
		UserInfoURL: userInfoURL,
		HTTPClient:  &http.Client{Timeout: DefaultTimeout},
	}
}

// New returns the provider called name ("google" or "github")
func New(name string, creds Credentials) (*Provider, error) {
	switch strings.ToLower(name) {
	case "", "google":
		return NewGoogleProvider(creds), nil
	case "github":
		return NewGithubProvider(creds), nil
	}
	return nil, fmt.Errorf("unknown oauth provider %q", name)
}

// WithEndpoint points the provider at another authorization server, such as a
// test double.
func (p *Provider) WithEndpoint(endpoint oauth2.Endpoint, userInfoURL string) *Provider {
	p.oauthConfig.Endpoint = endpoint
	p.UserInfoURL = userInfoURL
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Configured() bool {
	return p.oauthConfig.ClientID != "" && p.oauthConfig.RedirectURL != ""
}

func (p *Provider) Scopes() []string { return p.oauthConfig.Scopes }

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state, p.authOptions...)
}

// Exchange trades an authorization code for an access token. Non-2xx
// responses and responses without an access token are errors.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient())
	return p.oauthConfig.Exchange(ctx, code)
}

func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) (*ra.OAuthProfile, error) {
	return p.fetch(ctx, p, token)
}

func (p *Provider) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// getJSON performs an authenticated GET and decodes the JSON response into v.
func (p *Provider) getJSON(ctx context.Context, url string, token *oauth2.Token, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed getting user info from %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("user info request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse user info: %w", err)
	}
	return nil
}
