// Package client is a Go client for the recipeauth HTTP API. It signs in with
// a one-time code, keeps the resulting session per server in a
// CredentialStore and attaches it to later requests.
package client

import (
	"time"
)

// ServerCredential is the session held for one server
type ServerCredential struct {
	SessionToken string    `json:"session_token"`
	UserID       int64     `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	UserEmail    string    `json:"user_email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired reports whether the session has expired. A zero ExpiresAt is
// treated as a browser session that never expires on the client side.
func (c *ServerCredential) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && !time.Now().Before(c.ExpiresAt)
}

// IsExpiringSoon reports whether the session expires within the given duration
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return !c.ExpiresAt.IsZero() && time.Now().Add(within).After(c.ExpiresAt)
}

// CredentialStore keeps one credential per server
type CredentialStore interface {
	// GetCredential returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*ServerCredential, error)

	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}
