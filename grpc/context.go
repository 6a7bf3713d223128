// Package grpc carries recipeauth sessions into gRPC services. Clients send
// the session token as "authorization: Bearer <token>" metadata, or as the
// recipe_jwt cookie when calls arrive through grpc-gateway.
package grpc

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/metadata"

	ra "github.com/panyam/recipeauth"
)

// Default metadata keys for authentication context.
const (
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyCookie is where grpc-gateway forwards the Cookie header
	DefaultMetadataKeyCookie = "grpcgateway-cookie"

	// DefaultMetadataKeyUserID carries the verified user ID to downstream services
	DefaultMetadataKeyUserID = "x-user-id"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	MetadataKeyAuthorization string
	MetadataKeyCookie        string
	MetadataKeyUserID        string

	// CookieName defaults to recipe_jwt
	CookieName string
}

func DefaultConfig() *Config {
	c := &Config{}
	c.EnsureDefaults()
	return c
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyCookie == "" {
		c.MetadataKeyCookie = DefaultMetadataKeyCookie
	}
	if c.MetadataKeyUserID == "" {
		c.MetadataKeyUserID = DefaultMetadataKeyUserID
	}
	if c.CookieName == "" {
		c.CookieName = ra.DefaultCookieName
	}
}

// TokenFromContext returns the session token in the incoming metadata, looking
// at the forwarded cookie first and then the authorization header.
func TokenFromContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, header := range md.Get(config.MetadataKeyCookie) {
		cookies, err := http.ParseCookie(header)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == config.CookieName && c.Value != "" {
				return c.Value
			}
		}
	}
	for _, value := range md.Get(config.MetadataKeyAuthorization) {
		scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// TokenToOutgoingContext attaches a session token to outgoing calls.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// UserIDToOutgoingContext forwards the verified user to a downstream service
// that trusts this one.
func UserIDToOutgoingContext(ctx context.Context, userID int64) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyUserID, strconv.FormatInt(userID, 10))
}

// UserFromContext returns the user the interceptor verified, if any
func UserFromContext(ctx context.Context) (*ra.UserIdentity, bool) {
	return ra.UserFromContext(ctx)
}

// IsAuthenticated reports whether the interceptor attached a user
func IsAuthenticated(ctx context.Context) bool {
	_, ok := ra.UserFromContext(ctx)
	return ok
}
