package recipeauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultCookieName is the cookie carrying the session token
const DefaultCookieName = "recipe_jwt"

type contextKey string

const userContextKey contextKey = "recipeauth.user"

// WithUser returns a context carrying the authenticated user
func WithUser(ctx context.Context, user *UserIdentity) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the user attached by RequireAuthenticated
func UserFromContext(ctx context.Context) (*UserIdentity, bool) {
	user, ok := ctx.Value(userContextKey).(*UserIdentity)
	return user, ok && user != nil
}

// TokenVerifier resolves a session token to its account
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*UserIdentity, error)
}

// Middleware gates handlers on the presence of a session.
type Middleware struct {
	// CookieName defaults to DefaultCookieName
	CookieName string

	// HeaderName defaults to Authorization and expects a Bearer token
	HeaderName string

	Verifier TokenVerifier

	// GuestPresenceOnly makes RequireGuest reject any request that merely
	// carries a credential, valid or not.
	GuestPresenceOnly bool

	// OnError writes failures. Defaults to the JSON error response.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// ClearCredential, if set, is called when RequireGuest ignores a stale
	// credential so the client stops sending it.
	ClearCredential func(w http.ResponseWriter, r *http.Request)

	Logger *slog.Logger
}

// EnsureReasonableDefaults fills in unset fields
func (m *Middleware) EnsureReasonableDefaults() {
	if m.CookieName == "" {
		m.CookieName = DefaultCookieName
	}
	if m.HeaderName == "" {
		m.HeaderName = "Authorization"
	}
	if m.OnError == nil {
		m.OnError = func(w http.ResponseWriter, r *http.Request, err error) { writeError(w, err) }
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
}

// Credential returns the session token sent with r: the cookie first, then a
// Bearer header.
func (m *Middleware) Credential(r *http.Request) string {
	for _, cookie := range r.CookiesNamed(m.cookieName()) {
		if cookie.Value != "" {
			return cookie.Value
		}
	}
	header := m.HeaderName
	if header == "" {
		header = "Authorization"
	}
	for _, value := range r.Header.Values(header) {
		scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func (m *Middleware) cookieName() string {
	if m.CookieName == "" {
		return DefaultCookieName
	}
	return m.CookieName
}

// Authenticate verifies the request's credential.
func (m *Middleware) Authenticate(r *http.Request) (*UserIdentity, error) {
	token := m.Credential(r)
	if token == "" {
		return nil, ErrNoCredential
	}
	return m.Verifier.Verify(r.Context(), token)
}

// RequireAuthenticated lets the request through only with a valid session and
// makes the user available through UserFromContext.
func (m *Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r)
		if err != nil {
			if KindOf(err) == KindConfig || KindOf(err) == KindUnavailable {
				m.Logger.Error("session verification failed", "error", err)
			}
			m.OnError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireGuest rejects requests from signed in users with 403. An invalid or
// expired credential, or one whose account is gone, is treated as absent
// unless GuestPresenceOnly is set. Other verification failures are errors.
func (m *Middleware) RequireGuest(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.Credential(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		if m.GuestPresenceOnly {
			m.OnError(w, r, ErrAlreadyAuthenticated)
			return
		}
		_, err := m.Verifier.Verify(r.Context(), token)
		if err == nil {
			m.OnError(w, r, ErrAlreadyAuthenticated)
			return
		}
		if kind := KindOf(err); kind != KindAuth && kind != KindNotFound {
			m.Logger.Error("session verification failed", "error", err)
			m.OnError(w, r, err)
			return
		}
		m.Logger.Debug("ignoring stale credential on guest route", "error", err)
		if m.ClearCredential != nil {
			m.ClearCredential(w, r)
		}
		next.ServeHTTP(w, r)
	})
}
