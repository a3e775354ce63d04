package latch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = strings.Repeat("a", 32)
	cfg.JWT.RefreshSecret = strings.Repeat("b", 32)

	// Cheap argon2 parameters; these tests verify flow, not hardness.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	cfg.Notify.MaxRetries = 0
	cfg.Notify.RetryDelay = 10 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, rdb *redis.Client, users UserProvider, notifier Notifier, mutate func(*Config)) *Engine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUsers(users).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}

// mockProvider is an in-test UserProvider over plain maps.
type mockProvider struct {
	mu         sync.Mutex
	accounts   map[string]*Account
	byEmail    map[string]string
	byProvider map[string]string
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		accounts:   map[string]*Account{},
		byEmail:    map[string]string{},
		byProvider: map[string]string{},
	}
}

func (m *mockProvider) put(account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := account
	m.accounts[account.ID] = &copied
	m.byEmail[account.Email] = account.ID
	if account.Provider != "" {
		m.byProvider[account.Provider+"/"+account.ProviderID] = account.ID
	}
}

func (m *mockProvider) get(id string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *mockProvider) FindByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *m.accounts[id], nil
}

func (m *mockProvider) FindByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (m *mockProvider) FindByProvider(_ context.Context, provider, providerID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byProvider[provider+"/"+providerID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *m.accounts[id], nil
}

func (m *mockProvider) Create(_ context.Context, input CreateAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[input.Email]; ok {
		return Account{}, ErrEmailTaken
	}

	account := &Account{
		ID:           input.ID,
		Email:        input.Email,
		DisplayName:  input.DisplayName,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		CreatedAt:    time.Now(),
	}
	m.accounts[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return *account, nil
}

func (m *mockProvider) CreateOAuthUser(_ context.Context, input CreateOAuthAccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[input.Email]; ok {
		return Account{}, ErrEmailTaken
	}
	pk := input.Link.Provider + "/" + input.Link.ProviderID
	if _, ok := m.byProvider[pk]; ok {
		return Account{}, ErrProviderTaken
	}

	account := &Account{
		ID:                   input.ID,
		Email:                input.Email,
		DisplayName:          input.DisplayName,
		Role:                 input.Role,
		EmailVerified:        true,
		Provider:             input.Link.Provider,
		ProviderID:           input.Link.ProviderID,
		ProviderAccessToken:  input.Link.AccessToken,
		ProviderRefreshToken: input.Link.RefreshToken,
		ProviderTokenExpiry:  input.Link.TokenExpiry,
		CreatedAt:            time.Now(),
	}
	m.accounts[account.ID] = account
	m.byEmail[account.Email] = account.ID
	m.byProvider[pk] = account.ID
	return *account, nil
}

func (m *mockProvider) LinkOAuthAccount(_ context.Context, accountID string, link OAuthLink) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	pk := link.Provider + "/" + link.ProviderID
	if owner, ok := m.byProvider[pk]; ok && owner != accountID {
		return Account{}, ErrProviderTaken
	}

	account.Provider = link.Provider
	account.ProviderID = link.ProviderID
	account.ProviderAccessToken = link.AccessToken
	account.ProviderRefreshToken = link.RefreshToken
	account.ProviderTokenExpiry = link.TokenExpiry
	m.byProvider[pk] = accountID
	return *account, nil
}

func (m *mockProvider) UpdateProviderTokens(_ context.Context, accountID string, link OAuthLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.ProviderAccessToken = link.AccessToken
	account.ProviderRefreshToken = link.RefreshToken
	account.ProviderTokenExpiry = link.TokenExpiry
	return nil
}

func (m *mockProvider) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = newHash
	return nil
}

func (m *mockProvider) SetEmailVerified(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.EmailVerified = true
	return nil
}

func (m *mockProvider) SetRefreshTokenHash(_ context.Context, accountID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.RefreshTokenHash = hash
	return nil
}

func (m *mockProvider) SwapRefreshTokenHash(_ context.Context, accountID, expected, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if account.RefreshTokenHash != expected {
		return ErrRefreshStale
	}
	account.RefreshTokenHash = next
	return nil
}

// chanNotifier hands delivered codes to the test goroutine.
type chanNotifier struct {
	codes chan string
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{codes: make(chan string, 16)}
}

func (n *chanNotifier) SendCode(_ context.Context, _, _, code string, _ OTPPurpose) (bool, error) {
	n.codes <- code
	return true, nil
}

func (n *chanNotifier) waitCode(t *testing.T) string {
	t.Helper()

	select {
	case code := <-n.codes:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for code delivery")
		return ""
	}
}

func seedPasswordAccount(t *testing.T, engine *Engine, users *mockProvider, id, email, pass string, role Role) Account {
	t.Helper()

	hash, err := engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("hash password failed: %v", err)
	}

	account := Account{
		ID:            id,
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		EmailVerified: true,
	}
	users.put(account)
	return account
}
