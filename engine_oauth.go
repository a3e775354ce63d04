package latch

import (
	"context"
	"errors"
	"fmt"
)

// OAuthLogin resolves a provider callback profile to an account. In
// order of precedence: an account already bound to (provider, provider
// id) logs in, an account with the same email gets the provider linked,
// and otherwise a fresh email-verified account is created. The grant
// follows the account role exactly like password login.
func (e *Engine) OAuthLogin(ctx context.Context, profile OAuthProfile) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	profile.Email = normalizeEmail(profile.Email)
	if profile.Provider == "" || profile.ProviderID == "" || profile.Email == "" {
		return nil, fmt.Errorf("%w: provider, provider id and email required", ErrBadRequest)
	}

	link := OAuthLink{
		Provider:     profile.Provider,
		ProviderID:   profile.ProviderID,
		AccessToken:  profile.AccessToken,
		RefreshToken: profile.RefreshToken,
		TokenExpiry:  profile.TokenExpiry,
	}

	account, err := e.resolveOAuthAccount(ctx, profile, link)
	if err != nil {
		return nil, err
	}

	result, err := e.buildLoginResult(ctx, account)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricOAuthLogin)
	return result, nil
}

func (e *Engine) resolveOAuthAccount(ctx context.Context, profile OAuthProfile, link OAuthLink) (Account, error) {
	account, err := e.users.FindByProvider(ctx, profile.Provider, profile.ProviderID)
	if err == nil {
		if err := e.users.UpdateProviderTokens(ctx, account.ID, link); err != nil {
			return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return account, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	account, err = e.users.FindByEmail(ctx, profile.Email)
	if err == nil {
		// Same email, first time through this provider: bind it. The
		// provider verified the address, so linking to the existing
		// account is safe.
		linked, err := e.users.LinkOAuthAccount(ctx, account.ID, link)
		if err != nil {
			if errors.Is(err, ErrProviderTaken) {
				return Account{}, ErrProviderTaken
			}
			return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricOAuthLinked)
		return linked, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	id, err := newAccountID()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	created, err := e.users.CreateOAuthUser(ctx, CreateOAuthAccountInput{
		ID:          id,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Role:        RoleRegular,
		Link:        link,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			return Account{}, ErrEmailTaken
		case errors.Is(err, ErrProviderTaken):
			return Account{}, ErrProviderTaken
		default:
			return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return created, nil
}
