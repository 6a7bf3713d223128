package recipeauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"
)

// OTPTTL is how long a one-time code stays valid
const OTPTTL = 5 * time.Minute

const (
	otpMin = 100000
	otpMax = 999999
)

// OTPChallenge is the pending code for one identifier
type OTPChallenge struct {
	Identifier string    `json:"identifier"`
	Code       string    `json:"code"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c OTPChallenge) matches(id Identifier, code string) bool {
	return c.Identifier == id.Value && subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) == 1
}

// OTPIssued describes a challenge that was just created.
type OTPIssued struct {
	Identifier Identifier
	ExpiresAt  time.Time

	// DebugCode echoes the code back and is only set in debug mode
	DebugCode string
}

// LoginResult is the outcome of a successful verification
type LoginResult struct {
	User    *UserIdentity
	Created bool
}

// OTPFlow issues and verifies six digit one-time codes.
type OTPFlow struct {
	Store    EphemeralStore
	Resolver *AccountResolver
	Notifier Notifier

	// TTL defaults to OTPTTL
	TTL time.Duration

	// Debug returns the code in OTPIssued. Never enable in production.
	Debug bool

	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func (f *OTPFlow) ttl() time.Duration {
	if f.TTL > 0 {
		return f.TTL
	}
	return OTPTTL
}

func (f *OTPFlow) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

func (f *OTPFlow) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// GenerateOTP returns a code drawn uniformly from 100000-999999
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return strconv.FormatInt(n.Int64()+otpMin, 10), nil
}

// RequestOTP creates a challenge for id, replacing any pending one, and sends
// the code. Delivery failures are logged and do not fail the request.
func (f *OTPFlow) RequestOTP(ctx context.Context, id Identifier) (*OTPIssued, error) {
	if id.IsZero() {
		return nil, ErrInvalidIdentifier
	}
	code, err := GenerateOTP()
	if err != nil {
		return nil, err
	}

	now := f.now()
	challenge := OTPChallenge{Identifier: id.Value, Code: code, CreatedAt: now}
	if err := putJSON(ctx, f.Store, id.ChallengeKey(), challenge, f.ttl()); err != nil {
		return nil, err
	}
	f.Metrics.otpRequested(string(id.Type))

	if f.Notifier == nil {
		f.logger().Warn("no notifier configured, otp not delivered", "channel", id.Type)
	} else if err := f.Notifier.SendOTP(ctx, id, code, f.ttl()); err != nil {
		f.logger().Warn("otp delivery failed", "channel", id.Type, "error", err)
	}

	out := &OTPIssued{Identifier: id, ExpiresAt: now.Add(f.ttl())}
	if f.Debug {
		out.DebugCode = code
	}
	return out, nil
}

// VerifyOTP consumes the pending challenge for id if code matches it and
// resolves the account. Missing, expired and mismatched challenges all fail
// with ErrInvalidOrExpiredCode.
func (f *OTPFlow) VerifyOTP(ctx context.Context, id Identifier, code string) (*LoginResult, error) {
	if id.IsZero() || code == "" {
		return nil, ErrMissingFields
	}
	key := id.ChallengeKey()

	var challenge OTPChallenge
	if err := getJSON(ctx, f.Store, key, &challenge); err != nil {
		if errors.Is(err, ErrNotFound) {
			f.Metrics.otpVerified("invalid")
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, err
	}
	if !challenge.matches(id, code) {
		f.Metrics.otpVerified("invalid")
		return nil, ErrInvalidOrExpiredCode
	}

	// Only the caller that takes the challenge logs in.
	var taken OTPChallenge
	if err := takeJSON(ctx, f.Store, key, &taken); err != nil {
		if errors.Is(err, ErrNotFound) {
			f.Metrics.otpVerified("invalid")
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, err
	}
	if !taken.matches(id, code) {
		// a new code was requested in between; put it back
		if remaining := taken.CreatedAt.Add(f.ttl()).Sub(f.now()); remaining > 0 {
			if err := putJSON(ctx, f.Store, key, taken, remaining); err != nil {
				f.logger().Warn("restoring replaced otp challenge failed", "error", err)
			}
		}
		f.Metrics.otpVerified("invalid")
		return nil, ErrInvalidOrExpiredCode
	}

	user, created, err := f.Resolver.ResolveByIdentifier(ctx, id)
	if err != nil {
		return nil, err
	}
	f.Metrics.otpVerified("success")
	return &LoginResult{User: user, Created: created}, nil
}
