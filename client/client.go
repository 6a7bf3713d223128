package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBasePath   = "/recipe-auth/v1"
	DefaultCookieName = "recipe_jwt"
)

// ErrNotLoggedIn is returned by calls that need a session when none is stored
var ErrNotLoggedIn = errors.New("client: not logged in")

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("recipeauth: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("recipeauth: HTTP %d", e.Status)
}

// LoginRequest names the email address or phone number to send a code to
type LoginRequest struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// VerifyRequest trades a code for a session
type VerifyRequest struct {
	LoginRequest
	OTP string `json:"otp"`
}

// OTPSent is the server's answer to RequestOTP
type OTPSent struct {
	Message string `json:"message"`

	// DebugOTP is only returned by servers running in debug mode
	DebugOTP string `json:"debug_otp,omitempty"`
}

// User is the account summary returned by verify
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// Profile is the account returned by Me
type Profile struct {
	User
	DisplayName string   `json:"displayName"`
	Phone       string   `json:"phone"`
	Registered  string   `json:"registered"`
	Roles       []string `json:"roles"`
}

// AuthClient talks to one recipeauth server and remembers its session
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	basePath      string
	cookieName    string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithBasePath sets the path the auth routes are mounted under
func WithBasePath(path string) ClientOption {
	return func(c *AuthClient) {
		c.basePath = "/" + strings.Trim(path, "/")
	}
}

// WithCookieName matches a server that renamed its session cookie
func WithCookieName(name string) ClientOption {
	return func(c *AuthClient) {
		c.cookieName = name
	}
}

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with auth handling.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// NewAuthClient creates a client for the server at serverURL. Credentials are
// keyed by scheme and host only.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	u, err := url.Parse(serverURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		basePath:      DefaultBasePath,
		cookieName:    DefaultCookieName,
		store:         store,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &AuthTransport{Base: c.baseTransport, Token: c.GetToken}
	// the session cookie must be captured from the verify response, not followed
	c.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// HTTPClient returns a client that sends the stored session with every
// request, for calling the host application's own API.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// GetToken returns the stored session token, or "" when there is none or it
// has expired.
func (c *AuthClient) GetToken() (string, error) {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil || cred.IsExpired() {
		return "", err
	}
	return cred.SessionToken, nil
}

func (c *AuthClient) GetCredential() (*ServerCredential, error) {
	return c.store.GetCredential(c.serverURL)
}

// IsLoggedIn returns true if there is a valid (non-expired) credential
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.GetToken()
	return err == nil && token != ""
}

// RequestOTP asks the server to send a code to the email address or phone
// number in req.
func (c *AuthClient) RequestOTP(ctx context.Context, req LoginRequest) (*OTPSent, error) {
	var out OTPSent
	if _, err := c.do(ctx, http.MethodPost, "/login", req, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify trades a code for a session and stores it.
func (c *AuthClient) Verify(ctx context.Context, req VerifyRequest) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out struct {
		Created bool `json:"created"`
		User    User `json:"user"`
	}
	resp, err := c.do(ctx, http.MethodPost, "/verify", req, false, &out)
	if err != nil {
		return nil, err
	}

	var session *http.Cookie
	for _, cookie := range resp.Cookies() {
		if cookie.Name == c.cookieName && cookie.Value != "" {
			session = cookie
			break
		}
	}
	if session == nil {
		return nil, fmt.Errorf("server did not return a %s cookie", c.cookieName)
	}

	cred := &ServerCredential{
		SessionToken: session.Value,
		UserID:       out.User.ID,
		Username:     out.User.Username,
		UserEmail:    out.User.Email,
		ExpiresAt:    session.Expires,
		CreatedAt:    time.Now(),
	}
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return cred, nil
}

// Me returns the signed in account
func (c *AuthClient) Me(ctx context.Context) (*Profile, error) {
	if !c.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}
	var out struct {
		User Profile `json:"user"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/me", nil, true, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout tells the server and forgets the local credential. The credential is
// removed even if the server call fails, since sessions are not revoked
// server side anyway.
func (c *AuthClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var serverErr error
	if c.IsLoggedIn() {
		_, serverErr = c.do(ctx, http.MethodPost, "/logout", nil, true, nil)
	}
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	if err := c.store.Save(); err != nil {
		return err
	}
	var apiErr *APIError
	if errors.As(serverErr, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return nil
	}
	return serverErr
}

// do sends a JSON request. Guest routes are sent without the session since
// the server rejects signed in callers there.
func (c *AuthClient) do(ctx context.Context, method, path string, body any, authed bool, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.basePath+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.httpClient
	if !authed {
		httpClient = &http.Client{Transport: c.baseTransport, Timeout: c.httpClient.Timeout, CheckRedirect: c.httpClient.CheckRedirect}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(data, apiErr)
		return resp, apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return resp, nil
}
