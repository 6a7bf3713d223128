package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ra "github.com/panyam/recipeauth"
)

const (
	DefaultSMSBaseURL = "https://www.smslocal.com/dev/bulkV2"
	defaultSMSTimeout = 15 * time.Second
)

// SMSGateway sends codes through a JSON SMS API using the "otp" route.
type SMSGateway struct {
	APIKey  string
	BaseURL string
	Sender  string

	// CountryCode replaces a leading trunk 0 in local numbers, e.g. "91"
	CountryCode string

	HTTPClient *http.Client
}

func NewSMSGateway(apiKey, baseURL, sender string) *SMSGateway {
	if baseURL == "" {
		baseURL = DefaultSMSBaseURL
	}
	return &SMSGateway{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultSMSTimeout},
	}
}

type smsRequest struct {
	Route     string `json:"route"`
	Numbers   string `json:"numbers"`
	Variables string `json:"variables"`
	Sender    string `json:"sender_id,omitempty"`
}

// SendOTP never logs the code.
func (g *SMSGateway) SendOTP(ctx context.Context, to ra.Identifier, code string, ttl time.Duration) error {
	if to.Type != ra.IdentifierPhone {
		return fmt.Errorf("%w: sms cannot deliver to %s", ra.ErrNotifierUnavailable, to.Type)
	}
	if g.APIKey == "" {
		return fmt.Errorf("%w: sms api key is not set", ErrInvalidConfig)
	}
	number := g.Number(to.Value)
	if number == "" {
		return fmt.Errorf("%w: %q has no digits", ra.ErrInvalidIdentifier, to.Value)
	}

	raw, err := json.Marshal(smsRequest{Route: "otp", Numbers: number, Variables: code, Sender: g.Sender})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", g.APIKey)

	client := g.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSMSTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: sms gateway status=%d body=%s", ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// Number reduces phone to the digits the gateway expects.
func (g *SMSGateway) Number(phone string) string {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	digits := b.String()
	if g.CountryCode != "" && !strings.HasPrefix(strings.TrimSpace(phone), "+") && strings.HasPrefix(digits, "0") {
		digits = g.CountryCode + strings.TrimLeft(digits, "0")
	}
	return digits
}
