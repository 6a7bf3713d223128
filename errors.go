package recipeauth

import (
	"errors"
	"net/http"
)

// Kind groups errors by how a transport should report them.
type Kind int

const (
	KindInternal Kind = iota
	KindInput
	KindAuth
	KindForbidden
	KindNotFound
	KindConfig
	KindUpstream
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	case KindUpstream:
		return "upstream"
	case KindUnavailable:
		return "unavailable"
	}
	return "internal"
}

// Store errors
var (
	// ErrNotFound is returned by an EphemeralStore for absent and expired keys alike.
	ErrNotFound           = errors.New("ephemeral entry not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrDuplicateUser      = errors.New("user with this email or phone already exists")
	ErrUsernameExhausted  = errors.New("could not generate a unique username")
)

// Flow errors
var (
	ErrMissingFields         = errors.New("missing fields")
	ErrInvalidIdentifier     = errors.New("a valid email address or phone number is required")
	ErrInvalidOrExpiredCode  = errors.New("invalid or expired code")
	ErrProviderNotConfigured = errors.New("identity provider is not configured")
	ErrMissingParameters     = errors.New("missing code or state")
	ErrInvalidOrExpiredState = errors.New("invalid or expired state")
	ErrTokenExchangeFailed   = errors.New("authorization code exchange failed")
	ErrProfileFetchFailed    = errors.New("could not fetch profile from identity provider")
	ErrMissingEmail          = errors.New("identity provider did not return an email address")
	ErrEmailNotVerified      = errors.New("identity provider has not verified the email address")
	ErrNotifierUnavailable   = errors.New("no notifier for this identifier type")
)

// Session errors
var (
	ErrSecretNotConfigured  = errors.New("session signing secret is not configured")
	ErrSignatureInvalid     = errors.New("invalid session token")
	ErrTokenExpired         = errors.New("session token expired")
	ErrSubjectMissing       = errors.New("session token has no subject")
	ErrNoCredential         = errors.New("no authentication token found")
	ErrAlreadyAuthenticated = errors.New("already logged in")
)

type errorInfo struct {
	err     error
	kind    Kind
	status  int
	code    string
	message string
}

// Ordered: the first entry matched by errors.Is wins.
var errorTable = []errorInfo{
	{ErrMissingFields, KindInput, http.StatusBadRequest, "missing_fields", "Missing fields"},
	{ErrInvalidIdentifier, KindInput, http.StatusBadRequest, "invalid_identifier", "A valid email address or phone number is required."},
	{ErrMissingParameters, KindInput, http.StatusBadRequest, "missing_parameters", "Missing code or state."},
	{ErrMissingEmail, KindInput, http.StatusBadRequest, "missing_email", "The identity provider did not share an email address."},
	{ErrEmailNotVerified, KindInput, http.StatusBadRequest, "email_not_verified", "Verify your email address with the identity provider first."},
	{ErrInvalidOrExpiredState, KindAuth, http.StatusBadRequest, "invalid_state", "Invalid or expired state."},
	{ErrInvalidOrExpiredCode, KindAuth, http.StatusUnauthorized, "invalid_otp", "Invalid or expired OTP"},
	{ErrNoCredential, KindAuth, http.StatusUnauthorized, "no_credential", "No authentication token found."},
	{ErrSignatureInvalid, KindAuth, http.StatusUnauthorized, "invalid_token", "Invalid or expired session."},
	{ErrTokenExpired, KindAuth, http.StatusUnauthorized, "invalid_token", "Invalid or expired session."},
	{ErrSubjectMissing, KindAuth, http.StatusUnauthorized, "invalid_token", "Invalid or expired session."},
	{ErrAlreadyAuthenticated, KindForbidden, http.StatusForbidden, "already_authenticated", "You are already logged in."},
	{ErrUserNotFound, KindNotFound, http.StatusNotFound, "user_not_found", "User not found."},
	{ErrSecretNotConfigured, KindConfig, http.StatusInternalServerError, "not_configured", "Authentication is not configured."},
	{ErrProviderNotConfigured, KindConfig, http.StatusInternalServerError, "provider_not_configured", "Social login is not configured."},
	{ErrTokenExchangeFailed, KindUpstream, http.StatusInternalServerError, "token_exchange_failed", "Could not complete login with the identity provider."},
	{ErrProfileFetchFailed, KindUpstream, http.StatusInternalServerError, "profile_fetch_failed", "Could not complete login with the identity provider."},
	{ErrStorageUnavailable, KindUnavailable, http.StatusServiceUnavailable, "unavailable", "Authentication is temporarily unavailable."},
}

var internalError = errorInfo{kind: KindInternal, status: http.StatusInternalServerError, code: "internal_error", message: "Internal error."}

func lookupError(err error) errorInfo {
	for _, info := range errorTable {
		if errors.Is(err, info.err) {
			return info
		}
	}
	return internalError
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind { return lookupError(err).kind }

// StatusFor returns the HTTP status an error should be reported with.
func StatusFor(err error) int { return lookupError(err).status }

// ErrorCode returns the machine readable code reported to clients.
func ErrorCode(err error) string { return lookupError(err).code }

// PublicMessage returns a client safe message for err. Authentication
// failures share one generic message.
func PublicMessage(err error) string { return lookupError(err).message }
