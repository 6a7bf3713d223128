package recipeauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// OAuthStateTTL bounds how long a user may take at the provider
	OAuthStateTTL = 15 * time.Minute

	// ProviderTimeout bounds each outbound provider call
	ProviderTimeout = 15 * time.Second
)

// FlowState tracks one federated login attempt
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowAwaitingCallback
	FlowResolved
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowAwaitingCallback:
		return "awaiting_callback"
	case FlowResolved:
		return "resolved"
	case FlowFailed:
		return "failed"
	}
	return "idle"
}

// OAuthState is the CSRF state stored between Start and Callback
type OAuthState struct {
	Token     string    `json:"token"`
	ReturnTo  string    `json:"return_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FederatedLogin is the outcome of a successful callback
type FederatedLogin struct {
	User      *UserIdentity
	Created   bool
	Token     string
	ExpiresAt time.Time
	ReturnTo  string
}

// IdentityProvider is an external OAuth2 authorization server.
type IdentityProvider interface {
	Name() string

	// Configured reports whether the client id and redirect URI are set
	Configured() bool

	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*OAuthProfile, error)
}

// FederationFlow runs the authorization code flow against one provider.
type FederationFlow struct {
	Provider IdentityProvider
	Store    EphemeralStore
	Resolver *AccountResolver
	Tokens   *TokenService

	// StateTTL defaults to OAuthStateTTL and Timeout to ProviderTimeout
	StateTTL time.Duration
	Timeout  time.Duration

	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func (f *FederationFlow) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func (f *FederationFlow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *FederationFlow) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return ProviderTimeout
}

func (f *FederationFlow) configured() bool {
	return f.Provider != nil && f.Provider.Configured()
}

func stateKey(token string) string { return "oauth_state_" + token }

// GenerateStateToken returns 128 random bits, hex encoded
func GenerateStateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Start records a fresh state token and returns the provider URL to send the
// user to. returnTo is kept only if it is a relative path.
func (f *FederationFlow) Start(ctx context.Context, returnTo string) (string, error) {
	if !f.configured() {
		return "", ErrProviderNotConfigured
	}
	token, err := GenerateStateToken()
	if err != nil {
		return "", err
	}
	state := OAuthState{Token: token, ReturnTo: SafeReturnPath(returnTo), CreatedAt: f.now()}
	ttl := f.StateTTL
	if ttl <= 0 {
		ttl = OAuthStateTTL
	}
	if err := putJSON(ctx, f.Store, stateKey(token), state, ttl); err != nil {
		return "", err
	}
	f.logger().Debug("oauth flow", "provider", f.Provider.Name(), "state", FlowAwaitingCallback)
	return f.Provider.AuthCodeURL(token), nil
}

// Callback validates state, exchanges code and signs the user in. The state
// entry is consumed on the first call whatever the outcome.
func (f *FederationFlow) Callback(ctx context.Context, code, state string) (*FederatedLogin, error) {
	out, err := f.callback(ctx, code, state)
	if err != nil {
		f.Metrics.oauthCallback(ErrorCode(err))
		f.logger().Info("oauth flow", "state", FlowFailed, "error", err)
		return nil, err
	}
	f.Metrics.oauthCallback("success")
	f.logger().Debug("oauth flow", "state", FlowResolved, "user_id", out.User.ID, "created", out.Created)
	return out, nil
}

func (f *FederationFlow) callback(ctx context.Context, code, state string) (*FederatedLogin, error) {
	if code == "" || state == "" {
		return nil, ErrMissingParameters
	}

	var saved OAuthState
	if err := takeJSON(ctx, f.Store, stateKey(state), &saved); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidOrExpiredState
		}
		return nil, err
	}
	if !f.configured() {
		return nil, ErrProviderNotConfigured
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()
	token, err := f.Provider.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	profileCtx, cancelProfile := context.WithTimeout(ctx, f.timeout())
	defer cancelProfile()
	profile, err := f.Provider.FetchProfile(profileCtx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	if profile == nil || strings.TrimSpace(profile.Email) == "" {
		return nil, ErrMissingEmail
	}
	if !profile.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	user, created, err := f.Resolver.ResolveByOAuthProfile(ctx, *profile)
	if err != nil {
		return nil, err
	}
	session, expiresAt, err := f.Tokens.Issue(user, 0)
	if err != nil {
		return nil, err
	}
	return &FederatedLogin{
		User:      user,
		Created:   created,
		Token:     session,
		ExpiresAt: expiresAt,
		ReturnTo:  saved.ReturnTo,
	}, nil
}

// SafeReturnPath keeps p only if it is a local absolute path like "/recipes/1".
// Absolute and scheme-relative URLs are dropped to prevent open redirects.
func SafeReturnPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return p
}
