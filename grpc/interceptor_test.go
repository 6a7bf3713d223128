package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ra "github.com/panyam/recipeauth"
)

type stubVerifier map[string]error

func (v stubVerifier) Verify(ctx context.Context, token string) (*ra.UserIdentity, error) {
	if err, ok := v[token]; ok {
		return nil, err
	}
	return &ra.UserIdentity{ID: 1, Username: "cook"}, nil
}

var verifier = stubVerifier{
	"expired": ra.ErrTokenExpired,
	"forged":  ra.ErrSignatureInvalid,
	"deleted": ra.ErrUserNotFound,
	"down":    ra.ErrStorageUnavailable,
}

func bearerContext(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func callUnary(t *testing.T, config *InterceptorConfig, ctx context.Context, method string) (*ra.UserIdentity, error) {
	t.Helper()
	interceptor := UnaryAuthInterceptor(config)
	var seen *ra.UserIdentity
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
		seen, _ = UserFromContext(ctx)
		return "ok", nil
	})
	return seen, err
}

func TestNewInterceptorConfig(t *testing.T) {
	config := NewInterceptorConfig(verifier, "/recipes.Catalog/List")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/recipes.Catalog/List"] {
		t.Error("expected List to be public")
	}
	if config.PublicMethods["/recipes.Catalog/Save"] {
		t.Error("expected Save to not be public")
	}
	if OptionalAuthConfig(verifier).RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func TestUnaryAuthInterceptor_Required(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		method   string
		wantCode codes.Code
		wantUser bool
	}{
		{"valid token", bearerContext("good"), "/recipes.Catalog/Save", codes.OK, true},
		{"no token", context.Background(), "/recipes.Catalog/Save", codes.Unauthenticated, false},
		{"expired", bearerContext("expired"), "/recipes.Catalog/Save", codes.Unauthenticated, false},
		{"forged", bearerContext("forged"), "/recipes.Catalog/Save", codes.Unauthenticated, false},
		{"deleted account", bearerContext("deleted"), "/recipes.Catalog/Save", codes.NotFound, false},
		{"store down", bearerContext("down"), "/recipes.Catalog/Save", codes.Unavailable, false},
		{"public without token", context.Background(), "/recipes.Catalog/List", codes.OK, false},
		{"public with token", bearerContext("good"), "/recipes.Catalog/List", codes.OK, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewInterceptorConfig(verifier, "/recipes.Catalog/List")
			user, err := callUnary(t, config, tt.ctx, tt.method)
			if status.Code(err) != tt.wantCode {
				t.Fatalf("expected %v, got %v", tt.wantCode, err)
			}
			if (user != nil) != tt.wantUser {
				t.Errorf("expected user=%v, got %v", tt.wantUser, user)
			}
		})
	}
}

func TestUnaryAuthInterceptor_Optional(t *testing.T) {
	config := OptionalAuthConfig(verifier)

	user, err := callUnary(t, config, bearerContext("expired"), "/recipes.Catalog/Save")
	if err != nil || user != nil {
		t.Errorf("expired token should leave the caller anonymous, got %v %v", user, err)
	}
	user, err = callUnary(t, config, bearerContext("good"), "/recipes.Catalog/Save")
	if err != nil || user == nil || user.Username != "cook" {
		t.Errorf("expected cook, got %v %v", user, err)
	}
	if _, err := callUnary(t, config, bearerContext("down"), "/recipes.Catalog/Save"); status.Code(err) != codes.Unavailable {
		t.Errorf("outages are not hidden by optional auth, got %v", err)
	}
}

func TestUnaryAuthInterceptor_NoVerifier(t *testing.T) {
	_, err := callUnary(t, &InterceptorConfig{RequireAuth: true}, bearerContext("good"), "/recipes.Catalog/Save")
	if status.Code(err) != codes.Internal {
		t.Errorf("expected Internal, got %v", err)
	}
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	interceptor := StreamAuthInterceptor(NewInterceptorConfig(verifier))
	info := &grpc.StreamServerInfo{FullMethod: "/recipes.Catalog/Watch"}

	var seen *ra.UserIdentity
	handler := func(srv any, stream grpc.ServerStream) error {
		seen, _ = UserFromContext(stream.Context())
		return nil
	}

	if err := interceptor(nil, &mockServerStream{ctx: bearerContext("good")}, info, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.ID != 1 {
		t.Errorf("expected the stream context to carry the user, got %v", seen)
	}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, handler)
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{ra.ErrMissingFields, codes.InvalidArgument},
		{ra.ErrInvalidOrExpiredCode, codes.Unauthenticated},
		{ra.ErrAlreadyAuthenticated, codes.PermissionDenied},
		{ra.ErrSecretNotConfigured, codes.Internal},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		if got := StatusCode(tt.err); got != tt.want {
			t.Errorf("StatusCode(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
