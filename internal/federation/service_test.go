package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"

	"github.com/movalabs/panelgate/internal/auth"
	"github.com/movalabs/panelgate/internal/repository"
	"github.com/movalabs/panelgate/internal/securitylog"
)

// mockProvider returns a canned identity without any HTTP round trips.
type mockProvider struct {
	identity    *Identity
	exchangeErr error
	identityErr error
}

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (m *mockProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (m *mockProvider) FetchIdentity(_ context.Context, _ *oauth2.Token) (*Identity, error) {
	if m.identityErr != nil {
		return nil, m.identityErr
	}
	return m.identity, nil
}

type mockAccounts struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*repository.Account
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{byID: make(map[int64]*repository.Account)}
}

func (m *mockAccounts) Create(_ context.Context, _ pgx.Tx, account *repository.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Email, account.Email) {
			return repository.ErrEmailTaken
		}
		if existing.Nickname == account.Nickname {
			return repository.ErrNicknameTaken
		}
	}
	m.nextID++
	account.ID = m.nextID
	account.IsActive = true
	account.CreatedAt = time.Now()
	copied := *account
	m.byID[account.ID] = &copied
	return nil
}

func (m *mockAccounts) GetByID(_ context.Context, id int64) (*repository.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *mockAccounts) GetByEmail(_ context.Context, email string) (*repository.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.byID {
		if strings.EqualFold(account.Email, email) {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccounts) GetByNickname(_ context.Context, nickname string) (*repository.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.byID {
		if account.Nickname == nickname {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccounts) GetByExternalID(_ context.Context, externalID string) (*repository.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.byID {
		if account.ExternalID != nil && *account.ExternalID == externalID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (m *mockAccounts) NicknameExists(_ context.Context, nickname string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, account := range m.byID {
		if account.Nickname == nickname {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockAccounts) RecordLoginFailure(_ context.Context, id int64, maxFailures int, lockout time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return 0, nil, repository.ErrAccountNotFound
	}
	account.FailedLogins++
	if account.FailedLogins >= maxFailures {
		until := time.Now().Add(lockout)
		account.LockedUntil = &until
	}
	return account.FailedLogins, account.LockedUntil, nil
}

func (m *mockAccounts) ResetLoginState(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	now := time.Now()
	account.FailedLogins = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now
	return nil
}

func (m *mockAccounts) LinkExternalID(_ context.Context, id int64, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	if account.ExternalID != nil {
		return errors.New("account already linked")
	}
	account.ExternalID = &externalID
	return nil
}

func (m *mockAccounts) UpdateFederatedProfile(_ context.Context, _ pgx.Tx, id int64, name, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.Name = name
	account.Role = role
	return nil
}

func (m *mockAccounts) SetPassword(_ context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.byID[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	account.PasswordHash = &passwordHash
	return nil
}

type mockIssuer struct {
	mu     sync.Mutex
	issued int
	fail   bool
}

func (m *mockIssuer) Issue(_ context.Context, accountID int64, _, _ string) (*auth.IssuedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("session store unavailable")
	}
	m.issued++
	return &auth.IssuedSession{
		Token:     fmt.Sprintf("token-%d-%d", accountID, m.issued),
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

type mockHasher struct{}

func (mockHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

type federationEnv struct {
	service  *Service
	provider *mockProvider
	accounts *mockAccounts
	states   *MemoryStateStore
	issuer   *mockIssuer
}

func newFederationEnv(t *testing.T, identity *Identity, roles map[string]Role) *federationEnv {
	t.Helper()
	recorder := securitylog.NewRecorder(nil, nil)
	t.Cleanup(recorder.Close)

	env := &federationEnv{
		provider: &mockProvider{identity: identity},
		accounts: newMockAccounts(),
		states:   NewMemoryStateStore(time.Minute),
		issuer:   &mockIssuer{},
	}
	env.service = NewService(
		env.provider,
		env.states,
		env.accounts,
		env.issuer,
		mockHasher{},
		recorder,
		roles,
		nil,
	)
	return env
}

// startFlow runs Start and extracts the nonce the provider URL carries.
func startFlow(t *testing.T, env *federationEnv, ip string) string {
	t.Helper()
	url, err := env.service.Start(context.Background(), ip)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, nonce, found := strings.Cut(url, "state=")
	if !found || nonce == "" {
		t.Fatalf("authorization URL missing state: %q", url)
	}
	return nonce
}

func TestComplete_CreatesAccountOnFirstLogin(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-42",
		Username: "Panel Operator",
		Email:    "op@example.com",
		Verified: true,
		Groups:   []Group{{ID: "staff", Name: "Staff", Position: 5}},
	}, map[string]Role{"staff": RoleAdmin})

	nonce := startFlow(t, env, "203.0.113.7")
	flow, err := env.service.Complete(ctx, "code-1", nonce, "203.0.113.7", "test-client")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if flow.Account.Email != "op@example.com" {
		t.Errorf("email = %q", flow.Account.Email)
	}
	if flow.Account.Nickname != "paneloperator" {
		t.Errorf("nickname = %q, want sanitized handle", flow.Account.Nickname)
	}
	if flow.Account.Role != "admin" {
		t.Errorf("role = %q, want admin from group mapping", flow.Account.Role)
	}
	if flow.Account.ExternalID == nil || *flow.Account.ExternalID != "ext-42" {
		t.Error("external id not recorded")
	}
	if flow.Account.PasswordHash == nil {
		t.Error("federated account must still carry an unusable password hash")
	}
	if !flow.ProfileComplete {
		t.Error("verified email must mark the profile complete")
	}
	if flow.Token == "" || !flow.ExpiresAt.After(time.Now()) {
		t.Error("no usable session issued")
	}
}

func TestComplete_InvalidStateRejected(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{ID: "ext-1", Username: "someone"}, nil)

	_, err := env.service.Complete(ctx, "code", "fabricated-nonce", "203.0.113.7", "")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if env.issuer.issued != 0 {
		t.Error("no session may be issued on an invalid state")
	}
}

func TestComplete_StateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID: "ext-2", Username: "replayer", Email: "r@example.com", Verified: true,
	}, nil)

	nonce := startFlow(t, env, "203.0.113.7")
	if _, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", ""); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	// Replaying the callback with the same nonce must fail.
	_, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("replay err = %v, want ErrInvalidState", err)
	}
	if env.issuer.issued != 1 {
		t.Errorf("issued %d sessions, want 1", env.issuer.issued)
	}
}

func TestComplete_IPChangeMidFlowAllowed(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID: "ext-3", Username: "roamer", Email: "roam@example.com", Verified: true,
	}, nil)

	nonce := startFlow(t, env, "203.0.113.7")
	if _, err := env.service.Complete(ctx, "code", nonce, "198.51.100.9", ""); err != nil {
		t.Fatalf("Complete after IP change: %v", err)
	}
}

func TestComplete_ExistingExternalIDRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-5",
		Username: "Renamed User",
		Email:    "renamed@example.com",
		Verified: true,
		Groups:   []Group{{ID: "mods", Position: 3}},
	}, map[string]Role{"mods": RoleModerator})

	externalID := "ext-5"
	seeded := &repository.Account{
		Email:      "renamed@example.com",
		Nickname:   "oldhandle",
		Name:       "Old Name",
		ExternalID: &externalID,
		Role:       "member",
	}
	if err := env.accounts.Create(ctx, nil, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	nonce := startFlow(t, env, "203.0.113.7")
	flow, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if flow.Account.ID != seeded.ID {
		t.Fatalf("resolved account %d, want existing %d", flow.Account.ID, seeded.ID)
	}
	if flow.Account.Name != "Renamed User" {
		t.Errorf("name = %q, not refreshed from provider", flow.Account.Name)
	}
	if flow.Account.Role != "moderator" {
		t.Errorf("role = %q, not re-derived on login", flow.Account.Role)
	}

	stored, _ := env.accounts.GetByID(ctx, seeded.ID)
	if stored.LastLoginAt == nil {
		t.Error("login state not reset on federated login")
	}
}

func TestComplete_LinksByVerifiedEmail(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-7",
		Username: "linker",
		Email:    "Linked@Example.com",
		Verified: true,
	}, nil)

	hash := "some-argon2-hash"
	seeded := &repository.Account{
		Email:        "linked@example.com",
		Nickname:     "linker",
		Name:         "Linker",
		PasswordHash: &hash,
		Role:         "member",
	}
	if err := env.accounts.Create(ctx, nil, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	nonce := startFlow(t, env, "203.0.113.7")
	flow, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if flow.Account.ID != seeded.ID {
		t.Fatalf("resolved account %d, want linked existing %d", flow.Account.ID, seeded.ID)
	}
	if flow.Account.ExternalID == nil || *flow.Account.ExternalID != "ext-7" {
		t.Error("external identity not linked")
	}
}

func TestComplete_UnverifiedEmailNeverLinks(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-8",
		Username: "impostor",
		Email:    "victim@example.com",
		Verified: false,
	}, nil)

	hash := "some-argon2-hash"
	if err := env.accounts.Create(ctx, nil, &repository.Account{
		Email: "victim@example.com", Nickname: "victim", PasswordHash: &hash, Role: "member",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	nonce := startFlow(t, env, "203.0.113.7")
	flow, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	// The email dedup constraint fires on create: an unverified address
	// matching an existing account must not silently take it over.
	if err == nil {
		t.Fatalf("expected resolution failure, resolved account %d", flow.Account.ID)
	}
	if !errors.Is(err, ErrResolveFailure) {
		t.Fatalf("err = %v, want ErrResolveFailure", err)
	}
	victim, _ := env.accounts.GetByEmail(ctx, "victim@example.com")
	if victim.ExternalID != nil {
		t.Error("existing account must stay unlinked")
	}
}

func TestComplete_EmailAlreadyLinkedElsewhere(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-new",
		Username: "second identity",
		Email:    "shared@example.com",
		Verified: true,
	}, nil)

	otherExternal := "ext-old"
	if err := env.accounts.Create(ctx, nil, &repository.Account{
		Email: "shared@example.com", Nickname: "original", ExternalID: &otherExternal, Role: "member",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	nonce := startFlow(t, env, "203.0.113.7")
	_, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if !errors.Is(err, ErrResolveFailure) {
		t.Fatalf("err = %v, want ErrResolveFailure for already-linked email", err)
	}
}

func TestComplete_MissingEmailGetsPlaceholder(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-noscope",
		Username: "private person",
	}, nil)

	nonce := startFlow(t, env, "203.0.113.7")
	flow, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if !strings.HasSuffix(flow.Account.Email, "@federated.invalid") {
		t.Errorf("email = %q, want placeholder", flow.Account.Email)
	}
	if flow.ProfileComplete {
		t.Error("profile must be incomplete without a verified email")
	}
}

func TestComplete_HandleCollisionGetsSuffix(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{
		ID:       "ext-dup",
		Username: "taken",
		Email:    "dup@example.com",
		Verified: true,
	}, nil)

	if err := env.accounts.Create(ctx, nil, &repository.Account{
		Email: "holder@example.com", Nickname: "taken", Role: "member",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	nonce := startFlow(t, env, "203.0.113.7")
	flow, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if flow.Account.Nickname != "taken1" {
		t.Errorf("nickname = %q, want first collision suffix", flow.Account.Nickname)
	}
}

func TestComplete_ProviderFailureLeavesNoAccount(t *testing.T) {
	ctx := context.Background()
	env := newFederationEnv(t, &Identity{ID: "ext-9", Username: "ghost"}, nil)
	env.provider.exchangeErr = errors.New("provider returned 502")

	nonce := startFlow(t, env, "203.0.113.7")
	_, err := env.service.Complete(ctx, "code", nonce, "203.0.113.7", "")
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	if len(env.accounts.byID) != 0 {
		t.Error("no account may exist after a failed exchange")
	}
	if env.issuer.issued != 0 {
		t.Error("no session may be issued after a failed exchange")
	}
}

func TestHandleBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Panel Operator", "paneloperator"},
		{"UPPER", "upper"},
		{"ab", "userab"},
		{"!!", "user"},
		{"日本語ユーザー", "user"},
		{strings.Repeat("a", 40), strings.Repeat("a", 24)},
	}
	for _, tc := range cases {
		if got := handleBase(tc.in); got != tc.want {
			t.Errorf("handleBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
