package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrz1836/postmark"

	ra "github.com/panyam/recipeauth"
)

var (
	ErrInvalidConfig = errors.New("notify: invalid configuration")
	ErrSendFailed    = errors.New("notify: failed to send")
)

const defaultSubject = "Your verification code"

// PostmarkConfig configures the email notifier
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string

	// Subject defaults to "Your verification code"
	Subject string
}

// PostmarkNotifier emails codes through Postmark's transactional API.
type PostmarkNotifier struct {
	client *postmark.Client
	config PostmarkConfig
}

func NewPostmarkNotifier(cfg PostmarkConfig) (*PostmarkNotifier, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}
	if _, err := ra.EmailIdentifier(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender address %q is not valid", ErrInvalidConfig, cfg.From)
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
	}, nil
}

// WithBaseURL points the client at another API host
func (n *PostmarkNotifier) WithBaseURL(baseURL string) *PostmarkNotifier {
	n.client.BaseURL = baseURL
	return n
}

func (n *PostmarkNotifier) SendOTP(ctx context.Context, to ra.Identifier, code string, ttl time.Duration) error {
	if to.Type != ra.IdentifierEmail {
		return fmt.Errorf("%w: postmark cannot deliver to %s", ra.ErrNotifierUnavailable, to.Type)
	}
	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.config.From,
		ReplyTo:  n.config.ReplyTo,
		To:       to.Value,
		Subject:  n.config.Subject,
		Tag:      "otp",
		TextBody: ra.OTPMessage(code, ttl),
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
