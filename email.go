package recipeauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier delivers a one-time code to its owner. Implementations decide the
// channel from the identifier type.
type Notifier interface {
	SendOTP(ctx context.Context, to Identifier, code string, ttl time.Duration) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, to Identifier, code string, ttl time.Duration) error

func (f NotifierFunc) SendOTP(ctx context.Context, to Identifier, code string, ttl time.Duration) error {
	return f(ctx, to, code, ttl)
}

// RoutingNotifier sends email identifiers to Email and phone identifiers to Phone.
type RoutingNotifier struct {
	Email Notifier
	Phone Notifier
}

func (n *RoutingNotifier) SendOTP(ctx context.Context, to Identifier, code string, ttl time.Duration) error {
	var target Notifier
	switch to.Type {
	case IdentifierEmail:
		target = n.Email
	case IdentifierPhone:
		target = n.Phone
	}
	if target == nil {
		return fmt.Errorf("%w: %s", ErrNotifierUnavailable, to.Type)
	}
	return target.SendOTP(ctx, to, code, ttl)
}

// ConsoleNotifier is a development notifier that logs codes instead of sending them
type ConsoleNotifier struct {
	Logger *slog.Logger
}

func (c *ConsoleNotifier) SendOTP(ctx context.Context, to Identifier, code string, ttl time.Duration) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "=== OTP ===", "channel", to.Type, "to", to.Value, "code", code, "valid_for", ttl.String())
	return nil
}

// OTPMessage is the plain text body used by the bundled notifiers
func OTPMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code: %s\nThis code is valid for %d minutes.", code, int(ttl.Minutes()))
}
