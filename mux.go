package recipeauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

const (
	DefaultBasePath     = "/recipe-auth/v1"
	DefaultRedirectPath = "/dashboard"
	healthCheckTimeout  = 2 * time.Second
	registeredLayout    = "2006-01-02 15:04:05"
)

// RecipeAuth serves the login, session and OAuth endpoints.
type RecipeAuth struct {
	OTP        *OTPFlow
	Federation *FederationFlow
	Tokens     *TokenService
	Middleware *Middleware

	// BasePath prefixes every route. Defaults to DefaultBasePath.
	BasePath string

	// All the domains where the session cookie is set on login and cleared on
	// logout. The host-only cookie is always included.
	CookieDomains []string
	CookieName    string

	// CookieSecure marks the cookie Secure even when the request itself is not
	// TLS, as behind a terminating proxy.
	CookieSecure bool

	// FrontendURL is where the browser lands after an OAuth login
	FrontendURL         string
	DefaultRedirectPath string

	// HealthChecks are pinged by /healthz
	HealthChecks map[string]Pinger

	Metrics *Metrics
	Logger  *slog.Logger

	router *mux.Router
}

func New(tokens *TokenService, otp *OTPFlow, federation *FederationFlow) *RecipeAuth {
	return (&RecipeAuth{Tokens: tokens, OTP: otp, Federation: federation}).EnsureDefaults()
}

func (a *RecipeAuth) EnsureDefaults() *RecipeAuth {
	if a.BasePath == "" {
		a.BasePath = DefaultBasePath
	}
	if a.CookieName == "" {
		a.CookieName = DefaultCookieName
	}
	if a.DefaultRedirectPath == "" {
		a.DefaultRedirectPath = DefaultRedirectPath
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.Middleware == nil {
		a.Middleware = &Middleware{}
	}
	if a.Middleware.CookieName == "" {
		a.Middleware.CookieName = a.CookieName
	}
	if a.Middleware.Verifier == nil && a.Tokens != nil {
		a.Middleware.Verifier = a.Tokens
	}
	if a.Middleware.ClearCredential == nil {
		a.Middleware.ClearCredential = a.clearSessionCookie
	}
	if a.Middleware.Logger == nil {
		a.Middleware.Logger = a.Logger
	}
	a.Middleware.EnsureReasonableDefaults()
	return a
}

// Handler returns a router serving only the auth routes
func (a *RecipeAuth) Handler() http.Handler {
	return a.Router()
}

// Router returns the router the auth routes are mounted on so hosts can add
// their own routes next to them.
func (a *RecipeAuth) Router() *mux.Router {
	if a.router == nil {
		a.router = mux.NewRouter()
		a.Mount(a.router)
	}
	return a.router
}

// Mount registers the auth routes on r under BasePath.
func (a *RecipeAuth) Mount(r *mux.Router) {
	a.EnsureDefaults()
	routes := r
	if prefix := strings.TrimSuffix(a.BasePath, "/"); prefix != "" {
		routes = r.PathPrefix(prefix).Subrouter()
	}
	guest := a.Middleware.RequireGuest
	authed := a.Middleware.RequireAuthenticated

	routes.Handle("/login", guest(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	routes.Handle("/verify", guest(http.HandlerFunc(a.handleVerify))).Methods(http.MethodPost)
	routes.Handle("/logout", authed(http.HandlerFunc(a.handleLogout))).Methods(http.MethodPost)
	routes.Handle("/me", authed(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)
	routes.Handle("/oauth/start", guest(http.HandlerFunc(a.handleOAuthStart))).Methods(http.MethodGet)
	routes.HandleFunc("/oauth/callback", a.handleOAuthCallback).Methods(http.MethodGet)
	routes.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
}

func (a *RecipeAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	var params LoginParams
	if err := decodeParams(r, &params); err != nil {
		writeError(w, err)
		return
	}
	id, err := params.Identifier()
	if err != nil {
		writeError(w, err)
		return
	}
	issued, err := a.OTP.RequestOTP(r.Context(), id)
	if err != nil {
		a.logFailure(r, "otp request failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, otpSentResponse{
		Success:  true,
		Message:  "OTP sent successfully.",
		DebugOTP: issued.DebugCode,
	})
}

func (a *RecipeAuth) handleVerify(w http.ResponseWriter, r *http.Request) {
	var params VerifyParams
	if err := decodeParams(r, &params); err != nil {
		writeError(w, err)
		return
	}
	id, code, err := params.Validate()
	if err != nil {
		writeError(w, err)
		return
	}
	// Fail before consuming the code if no session could be issued anyway.
	if a.Tokens == nil || a.Tokens.Secret == "" {
		a.logFailure(r, "otp verification refused", ErrSecretNotConfigured)
		writeError(w, ErrSecretNotConfigured)
		return
	}

	result, err := a.OTP.VerifyOTP(r.Context(), id, code)
	if err != nil {
		a.logFailure(r, "otp verification failed", err)
		writeError(w, err)
		return
	}
	token, expiresAt, err := a.Tokens.Issue(result.User, 0)
	if err != nil {
		a.logFailure(r, "issuing session failed", err)
		writeError(w, err)
		return
	}
	a.Metrics.sessionIssued("otp")
	a.setSessionCookie(w, r, token, expiresAt)
	writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Created: result.Created,
		User:    newUserSummary(result.User),
	})
}

func (a *RecipeAuth) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully."})
}

func (a *RecipeAuth) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, ErrNoCredential)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Success: true, User: newUserProfile(user)})
}

func (a *RecipeAuth) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if a.Federation == nil {
		writeError(w, ErrProviderNotConfigured)
		return
	}
	authURL, err := a.Federation.Start(r.Context(), r.URL.Query().Get("return_to"))
	if err != nil {
		a.logFailure(r, "oauth start failed", err)
		writeError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *RecipeAuth) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if a.Federation == nil {
		writeError(w, ErrProviderNotConfigured)
		return
	}
	params := CallbackParamsFrom(r)
	login, err := a.Federation.Callback(r.Context(), params.Code, params.State)
	if err != nil {
		a.logFailure(r, "oauth callback failed", err)
		writeError(w, err)
		return
	}
	a.Metrics.sessionIssued("oauth")
	a.setSessionCookie(w, r, login.Token, login.ExpiresAt)
	http.Redirect(w, r, a.redirectTarget(login.ReturnTo), http.StatusFound)
}

func (a *RecipeAuth) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(a.HealthChecks))
	healthy := true
	for name, pinger := range a.HealthChecks {
		if err := pinger.Ping(ctx); err != nil {
			a.Logger.Error("health check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Success: healthy, Checks: checks})
}

// redirectTarget is where the browser goes after an OAuth login
func (a *RecipeAuth) redirectTarget(returnTo string) string {
	path := SafeReturnPath(returnTo)
	if a.FrontendURL == "" {
		if path == "" {
			return "/"
		}
		return path
	}
	if path == "" {
		path = a.DefaultRedirectPath
	}
	return strings.TrimSuffix(a.FrontendURL, "/") + path
}

func (a *RecipeAuth) cookieDomains() []string {
	domains := slices.Clone(a.CookieDomains)
	if slices.Index(domains, "") < 0 {
		domains = append(domains, "")
	}
	return domains
}

func (a *RecipeAuth) setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	for _, domain := range a.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     a.CookieName,
			Value:    token,
			Domain:   domain,
			Path:     "/",
			Expires:  expiresAt,
			HttpOnly: true,
			Secure:   a.CookieSecure || r.TLS != nil,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

func (a *RecipeAuth) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	for _, domain := range a.cookieDomains() {
		http.SetCookie(w, &http.Cookie{
			Name:     a.CookieName,
			Value:    "",
			Domain:   domain,
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   a.CookieSecure || r.TLS != nil,
			SameSite: http.SameSiteNoneMode,
		})
	}
}

func (a *RecipeAuth) logFailure(r *http.Request, msg string, err error) {
	switch KindOf(err) {
	case KindConfig, KindUnavailable, KindInternal, KindUpstream:
		a.Logger.ErrorContext(r.Context(), msg, "path", r.URL.Path, "error", err)
	default:
		a.Logger.InfoContext(r.Context(), msg, "path", r.URL.Path, "error", err)
	}
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type otpSentResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	DebugOTP string `json:"debug_otp,omitempty"`
}

type userSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

func newUserSummary(u *UserIdentity) userSummary {
	return userSummary{ID: u.ID, Username: u.Username, Email: u.Email, Avatar: u.AvatarURL}
}

type verifyResponse struct {
	Success bool        `json:"success"`
	Created bool        `json:"created"`
	User    userSummary `json:"user"`
}

type userProfile struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	Avatar      string   `json:"avatar"`
	Phone       string   `json:"phone"`
	Registered  string   `json:"registered"`
	Roles       []string `json:"roles"`
}

func newUserProfile(u *UserIdentity) userProfile {
	displayName := u.DisplayName
	if displayName == "" {
		displayName = u.Username
	}
	roles := []string{}
	if u.Role != "" {
		roles = append(roles, u.Role)
	}
	return userProfile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: displayName,
		Avatar:      u.AvatarURL,
		Phone:       u.Phone,
		Registered:  u.CreatedAt.UTC().Format(registeredLayout),
		Roles:       roles,
	}
}

type meResponse struct {
	Success bool        `json:"success"`
	User    userProfile `json:"user"`
}

type healthResponse struct {
	Success bool              `json:"success"`
	Checks  map[string]string `json:"checks"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorResponse{
		Success: false,
		Error:   ErrorCode(err),
		Message: PublicMessage(err),
	})
}
