package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	ra "github.com/panyam/recipeauth"
	"github.com/panyam/recipeauth/stores/fs"
	"github.com/panyam/recipeauth/stores/memory"
)

// newAuthServer runs a real recipeauth server in debug mode
func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	users := fs.NewIdentityStore(filepath.Join(t.TempDir(), "users"))
	ephemeral := memory.NewStore()
	tokens := ra.NewTokenService("client-test-secret", "http://recipes.test", users)
	resolver := ra.NewAccountResolver(users)
	otp := &ra.OTPFlow{Store: ephemeral, Resolver: resolver, Notifier: &ra.ConsoleNotifier{}, Debug: true}

	auth := ra.New(tokens, otp, nil)
	router := auth.Router()
	router.Handle("/api/recipes", auth.Middleware.RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := ra.UserFromContext(r.Context())
		w.Write([]byte("recipes for " + user.Username))
	})))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestAuthClient_LoginJourney(t *testing.T) {
	server := newAuthServer(t)
	store := newMockCredentialStore()
	c := NewAuthClient(server.URL, store)
	ctx := context.Background()

	sent, err := c.RequestOTP(ctx, LoginRequest{Email: "cook@example.com"})
	if err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	if sent.DebugOTP == "" {
		t.Fatal("expected debug code from a debug server")
	}

	cred, err := c.Verify(ctx, VerifyRequest{LoginRequest: LoginRequest{Email: "cook@example.com"}, OTP: sent.DebugOTP})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if cred.SessionToken == "" || cred.Username != "cook" || cred.UserID == 0 {
		t.Errorf("unexpected credential %+v", cred)
	}
	if cred.ExpiresAt.IsZero() {
		t.Error("expected expiry from the session cookie")
	}
	if store.saves != 1 {
		t.Errorf("expected credential to be saved once, got %d", store.saves)
	}

	profile, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if profile.Email != "cook@example.com" || profile.DisplayName != "cook" || len(profile.Roles) != 1 {
		t.Errorf("unexpected profile %+v", profile)
	}

	resp, err := c.HTTPClient().Get(server.URL + "/api/recipes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("host API should accept the stored session, got %d", resp.StatusCode)
	}

	// guest routes are called without the session
	if _, err := c.RequestOTP(ctx, LoginRequest{Email: "cook@example.com"}); err != nil {
		t.Errorf("RequestOTP while logged in should not send the session: %v", err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if c.IsLoggedIn() {
		t.Error("expected credential to be removed")
	}
	if _, err := c.Me(ctx); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestAuthClient_VerifyWrongCode(t *testing.T) {
	server := newAuthServer(t)
	c := NewAuthClient(server.URL, newMockCredentialStore())
	ctx := context.Background()

	if _, err := c.RequestOTP(ctx, LoginRequest{Phone: "+15551234567"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Verify(ctx, VerifyRequest{LoginRequest: LoginRequest{Phone: "+15551234567"}, OTP: "000000"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != "invalid_otp" || apiErr.Message != "Invalid or expired OTP" {
		t.Errorf("unexpected error %+v", apiErr)
	}
	if c.IsLoggedIn() {
		t.Error("failed verify must not store a credential")
	}
}

func TestAuthClient_RequestOTPValidation(t *testing.T) {
	server := newAuthServer(t)
	c := NewAuthClient(server.URL, newMockCredentialStore())

	_, err := c.RequestOTP(context.Background(), LoginRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestAuthClient_StaleSessionLogout(t *testing.T) {
	server := newAuthServer(t)
	store := newMockCredentialStore()
	c := NewAuthClient(server.URL, store)
	store.SetCredential(c.ServerURL(), &ServerCredential{SessionToken: "forged.token.value"})

	var apiErr *APIError
	if _, err := c.Me(context.Background()); !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 for a forged session, got %v", err)
	}
	if err := c.Logout(context.Background()); err != nil {
		t.Errorf("Logout() with a rejected session should still succeed, got %v", err)
	}
	if cred, _ := store.GetCredential(c.ServerURL()); cred != nil {
		t.Error("expected credential to be removed")
	}
}
