package recipeauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a session token stays valid unless configured otherwise
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionProfile is the non-authoritative profile snapshot carried in a token.
// Verification always reloads the account from the identity store.
type SessionProfile struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// SessionClaims are the claims of a session token
type SessionClaims struct {
	jwt.RegisteredClaims
	Data SessionProfile `json:"data"`
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	// Secret signs every token. An empty secret disables issuing and verifying.
	Secret string

	// Issuer is placed in the iss claim, normally the site URL
	Issuer string

	// TTL applies when Issue is called without one. Defaults to DefaultSessionTTL.
	TTL time.Duration

	Users IdentityStore

	// Now is the clock used for iat/exp and expiry checks
	Now func() time.Time
}

func NewTokenService(secret, issuer string, users IdentityStore) *TokenService {
	return &TokenService{Secret: secret, Issuer: issuer, Users: users}
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Issue signs a session token for user. ttl <= 0 uses the service default.
func (s *TokenService) Issue(user *UserIdentity, ttl time.Duration) (string, time.Time, error) {
	if s.Secret == "" {
		return "", time.Time{}, ErrSecretNotConfigured
	}
	if ttl <= 0 {
		ttl = s.TTL
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Data: SessionProfile{Email: user.Email, Username: user.Username},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Parse checks the signature and expiry of a token and returns its claims.
// The signature is checked first so a forged token never reports ErrTokenExpired.
func (s *TokenService) Parse(tokenString string) (*SessionClaims, error) {
	if s.Secret == "" {
		return nil, ErrSecretNotConfigured
	}
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return []byte(s.Secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if claims.Subject == "" {
		return nil, ErrSubjectMissing
	}
	return claims, nil
}

// Verify validates a token and loads the account it was issued for.
func (s *TokenService) Verify(ctx context.Context, tokenString string) (*UserIdentity, error) {
	claims, err := s.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q is not a user id", ErrSubjectMissing, claims.Subject)
	}
	return s.Users.GetUserByID(ctx, id)
}
