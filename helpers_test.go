package recipeauth_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	ra "github.com/panyam/recipeauth"
	"github.com/panyam/recipeauth/stores/fs"
	"github.com/panyam/recipeauth/stores/memory"
)

const testSecret = "test-secret-key-for-sessions"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingNotifier remembers the last code sent to each identifier
type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
	err   error
}

func (n *recordingNotifier) SendOTP(ctx context.Context, to ra.Identifier, code string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent++
	if n.err != nil {
		return n.err
	}
	if n.codes == nil {
		n.codes = map[string]string{}
	}
	n.codes[to.Value] = code
	return nil
}

func (n *recordingNotifier) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

func (n *recordingNotifier) CodeFor(id string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[id]
}

// fakeProvider is an IdentityProvider that never touches the network
type fakeProvider struct {
	mu          sync.Mutex
	configured  bool
	exchangeErr error
	profileErr  error
	profile     *ra.OAuthProfile
	codes       []string
}

func newFakeProvider(email, name string) *fakeProvider {
	return &fakeProvider{
		configured: true,
		profile:    &ra.OAuthProfile{Email: email, EmailVerified: true, DisplayName: name, AvatarURL: "https://idp.example.com/avatar.png"},
	}
}

func (p *fakeProvider) Name() string     { return "fake" }
func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/auth?client_id=cid&state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.codes = append(p.codes, code)
	p.mu.Unlock()
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*ra.OAuthProfile, error) {
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	return p.profile, nil
}

// failingStore is an EphemeralStore whose backend is down
type failingStore struct{}

var errBackendDown = errors.New("connection refused")

func (failingStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Join(ra.ErrStorageUnavailable, errBackendDown)
}

func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.Join(ra.ErrStorageUnavailable, errBackendDown)
}

func (failingStore) Delete(ctx context.Context, key string) error {
	return errors.Join(ra.ErrStorageUnavailable, errBackendDown)
}

func (failingStore) Take(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.Join(ra.ErrStorageUnavailable, errBackendDown)
}

// lockstepStore lets n concurrent consumers all read an entry before any of
// them goes on to remove it.
type lockstepStore struct {
	ra.EphemeralStore
	read  sync.WaitGroup
	taken sync.WaitGroup
}

func newLockstepStore(inner ra.EphemeralStore, n int) *lockstepStore {
	s := &lockstepStore{EphemeralStore: inner}
	s.read.Add(n)
	s.taken.Add(n)
	return s
}

func (s *lockstepStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.EphemeralStore.Get(ctx, key)
	s.read.Done()
	s.read.Wait()
	return value, err
}

func (s *lockstepStore) Take(ctx context.Context, key string) ([]byte, error) {
	s.taken.Done()
	s.taken.Wait()
	return s.EphemeralStore.Take(ctx, key)
}

type testEnv struct {
	clock      *testClock
	users      *fs.IdentityStore
	ephemeral  *memory.Store
	tokens     *ra.TokenService
	resolver   *ra.AccountResolver
	notifier   *recordingNotifier
	otp        *ra.OTPFlow
	provider   *fakeProvider
	federation *ra.FederationFlow
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	dir, err := os.MkdirTemp("", "recipeauth-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	env := &testEnv{
		clock:     newTestClock(),
		users:     fs.NewIdentityStore(dir),
		ephemeral: memory.NewStore(),
		notifier:  &recordingNotifier{},
		provider:  newFakeProvider("oauth.user@example.com", "OAuth User"),
	}
	env.ephemeral.Now = env.clock.Now
	env.tokens = ra.NewTokenService(testSecret, "https://recipes.example.com", env.users)
	env.tokens.Now = env.clock.Now
	env.resolver = ra.NewAccountResolver(env.users)
	env.resolver.Now = env.clock.Now
	env.otp = &ra.OTPFlow{
		Store:    env.ephemeral,
		Resolver: env.resolver,
		Notifier: env.notifier,
		Now:      env.clock.Now,
	}
	env.federation = &ra.FederationFlow{
		Provider: env.provider,
		Store:    env.ephemeral,
		Resolver: env.resolver,
		Tokens:   env.tokens,
		Now:      env.clock.Now,
	}
	return env
}

func mustEmail(t *testing.T, raw string) ra.Identifier {
	t.Helper()
	id, err := ra.EmailIdentifier(raw)
	if err != nil {
		t.Fatalf("EmailIdentifier(%q): %v", raw, err)
	}
	return id
}

func mustPhone(t *testing.T, raw string) ra.Identifier {
	t.Helper()
	id, err := ra.PhoneIdentifier(raw)
	if err != nil {
		t.Fatalf("PhoneIdentifier(%q): %v", raw, err)
	}
	return id
}
