package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ra "github.com/panyam/recipeauth"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	*Config

	Verifier ra.TokenVerifier

	// RequireAuth when true rejects unauthenticated requests. When false,
	// requests proceed and a bad or missing token leaves the caller anonymous.
	RequireAuth bool

	// PublicMethods don't require auth. Keys are full method names like
	// "/package.Service/Method".
	PublicMethods map[string]bool

	Logger *slog.Logger
}

// NewInterceptorConfig requires auth for every method except publicMethods.
func NewInterceptorConfig(verifier ra.TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verifier ra.TokenVerifier) *InterceptorConfig {
	config := NewInterceptorConfig(verifier)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// UnaryAuthInterceptor verifies the caller's session and attaches the user to
// the handler's context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }

func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	required := c.RequireAuth && !c.PublicMethods[method]
	token := TokenFromContext(ctx, c.Config)
	if token == "" {
		if required {
			return nil, status.Error(codes.Unauthenticated, ra.PublicMessage(ra.ErrNoCredential))
		}
		return ctx, nil
	}
	if c.Verifier == nil {
		c.Logger.Error("grpc auth interceptor has no verifier", "method", method)
		return nil, status.Error(codes.Internal, ra.PublicMessage(ra.ErrSecretNotConfigured))
	}

	user, err := c.Verifier.Verify(ctx, token)
	if err != nil {
		if kind := ra.KindOf(err); !required && (kind == ra.KindAuth || kind == ra.KindNotFound) {
			return ctx, nil
		}
		if code := StatusCode(err); code == codes.Internal || code == codes.Unavailable {
			c.Logger.Error("grpc session verification failed", "method", method, "error", err)
		}
		return nil, status.Error(StatusCode(err), ra.PublicMessage(err))
	}
	return ra.WithUser(ctx, user), nil
}

// StatusCode maps a recipeauth error to the closest gRPC code.
func StatusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	switch ra.KindOf(err) {
	case ra.KindInput:
		return codes.InvalidArgument
	case ra.KindAuth:
		return codes.Unauthenticated
	case ra.KindForbidden:
		return codes.PermissionDenied
	case ra.KindNotFound:
		return codes.NotFound
	case ra.KindUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}
