// Package memory implements latch.UserProvider with an in-process map.
// It is intended for tests and examples; nothing survives a restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/latchauth/latch"
)

// Provider is a mutex-guarded account map. All returned accounts are
// copies; callers can mutate them freely.
type Provider struct {
	mu         sync.RWMutex
	byID       map[string]*latch.Account
	byEmail    map[string]string
	byProvider map[string]string
}

// New returns an empty provider.
func New() *Provider {
	return &Provider{
		byID:       make(map[string]*latch.Account),
		byEmail:    make(map[string]string),
		byProvider: make(map[string]string),
	}
}

func providerKey(provider, providerID string) string {
	return provider + "\x00" + providerID
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FindByEmail looks an account up by normalized email.
func (p *Provider) FindByEmail(_ context.Context, email string) (latch.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.byEmail[normalize(email)]
	if !ok {
		return latch.Account{}, latch.ErrAccountNotFound
	}
	return *p.byID[id], nil
}

// FindByID looks an account up by id.
func (p *Provider) FindByID(_ context.Context, id string) (latch.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	account, ok := p.byID[id]
	if !ok {
		return latch.Account{}, latch.ErrAccountNotFound
	}
	return *account, nil
}

// FindByProvider looks an account up by its OAuth binding.
func (p *Provider) FindByProvider(_ context.Context, provider, providerID string) (latch.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.byProvider[providerKey(provider, providerID)]
	if !ok {
		return latch.Account{}, latch.ErrAccountNotFound
	}
	return *p.byID[id], nil
}

// Create inserts a password account.
func (p *Provider) Create(_ context.Context, input latch.CreateAccountInput) (latch.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email := normalize(input.Email)
	if _, ok := p.byEmail[email]; ok {
		return latch.Account{}, latch.ErrEmailTaken
	}

	now := time.Now()
	account := &latch.Account{
		ID:           input.ID,
		Email:        email,
		DisplayName:  input.DisplayName,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	p.byID[account.ID] = account
	p.byEmail[email] = account.ID
	return *account, nil
}

// CreateOAuthUser inserts an OAuth-only account, born email-verified.
func (p *Provider) CreateOAuthUser(_ context.Context, input latch.CreateOAuthAccountInput) (latch.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	email := normalize(input.Email)
	if _, ok := p.byEmail[email]; ok {
		return latch.Account{}, latch.ErrEmailTaken
	}
	pk := providerKey(input.Link.Provider, input.Link.ProviderID)
	if _, ok := p.byProvider[pk]; ok {
		return latch.Account{}, latch.ErrProviderTaken
	}

	now := time.Now()
	account := &latch.Account{
		ID:                   input.ID,
		Email:                email,
		DisplayName:          input.DisplayName,
		Role:                 input.Role,
		EmailVerified:        true,
		Provider:             input.Link.Provider,
		ProviderID:           input.Link.ProviderID,
		ProviderAccessToken:  input.Link.AccessToken,
		ProviderRefreshToken: input.Link.RefreshToken,
		ProviderTokenExpiry:  input.Link.TokenExpiry,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	p.byID[account.ID] = account
	p.byEmail[email] = account.ID
	p.byProvider[pk] = account.ID
	return *account, nil
}

// LinkOAuthAccount binds an OAuth identity to an existing account.
func (p *Provider) LinkOAuthAccount(_ context.Context, accountID string, link latch.OAuthLink) (latch.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.byID[accountID]
	if !ok {
		return latch.Account{}, latch.ErrAccountNotFound
	}

	pk := providerKey(link.Provider, link.ProviderID)
	if owner, ok := p.byProvider[pk]; ok && owner != accountID {
		return latch.Account{}, latch.ErrProviderTaken
	}

	account.Provider = link.Provider
	account.ProviderID = link.ProviderID
	account.ProviderAccessToken = link.AccessToken
	account.ProviderRefreshToken = link.RefreshToken
	account.ProviderTokenExpiry = link.TokenExpiry
	account.UpdatedAt = time.Now()

	p.byProvider[pk] = accountID
	return *account, nil
}

// UpdateProviderTokens refreshes the stored OAuth tokens.
func (p *Provider) UpdateProviderTokens(_ context.Context, accountID string, link latch.OAuthLink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.byID[accountID]
	if !ok {
		return latch.ErrAccountNotFound
	}

	account.ProviderAccessToken = link.AccessToken
	account.ProviderRefreshToken = link.RefreshToken
	account.ProviderTokenExpiry = link.TokenExpiry
	account.UpdatedAt = time.Now()
	return nil
}

// UpdatePasswordHash replaces the stored password hash.
func (p *Provider) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.byID[accountID]
	if !ok {
		return latch.ErrAccountNotFound
	}

	account.PasswordHash = newHash
	account.UpdatedAt = time.Now()
	return nil
}

// SetEmailVerified marks the account's email confirmed.
func (p *Provider) SetEmailVerified(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.byID[accountID]
	if !ok {
		return latch.ErrAccountNotFound
	}

	account.EmailVerified = true
	account.UpdatedAt = time.Now()
	return nil
}

// SetRefreshTokenHash overwrites the refresh hash; empty clears it.
func (p *Provider) SetRefreshTokenHash(_ context.Context, accountID, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.byID[accountID]
	if !ok {
		return latch.ErrAccountNotFound
	}

	account.RefreshTokenHash = hash
	account.UpdatedAt = time.Now()
	return nil
}

// SwapRefreshTokenHash replaces the hash only while it still equals
// expected. The mutex makes the compare-and-set atomic.
func (p *Provider) SwapRefreshTokenHash(_ context.Context, accountID, expected, next string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	account, ok := p.byID[accountID]
	if !ok {
		return latch.ErrAccountNotFound
	}
	if account.RefreshTokenHash != expected {
		return latch.ErrRefreshStale
	}

	account.RefreshTokenHash = next
	account.UpdatedAt = time.Now()
	return nil
}
