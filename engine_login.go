package latch

import (
	"context"
	"errors"
	"fmt"
)

// UserLogin authenticates a regular account with email and password. The
// result never carries tokens; regular sessions are the caller's concern.
func (e *Engine) UserLogin(ctx context.Context, email, pass string) (*LoginResult, error) {
	return e.login(ctx, email, pass, RoleRegular)
}

// AdminLogin authenticates a platform-admin account and issues an
// access/refresh token pair. An existing regular account presenting the
// correct password here fails exactly like a wrong password.
func (e *Engine) AdminLogin(ctx context.Context, email, pass string) (*LoginResult, error) {
	return e.login(ctx, email, pass, RolePlatformAdmin)
}

// login is the shared credential check. Every failure surfaces as
// ErrInvalidCredentials: which step rejected (lookup, hash, role) is
// never observable to the caller.
func (e *Engine) login(ctx context.Context, email, pass string, expected Role) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" || pass == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	account, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn comparable work so an unknown email does not return
			// measurably faster than a wrong password.
			e.hasher.DummyVerify(pass)
			e.metricInc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !account.HasPassword() {
		e.hasher.DummyVerify(pass)
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	if account.Role != expected {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	result, err := e.buildLoginResult(ctx, account)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	return result, nil
}

// buildLoginResult applies the two-variant grant: platform admins get a
// token pair with the refresh hash persisted, everyone else gets profile
// data only.
func (e *Engine) buildLoginResult(ctx context.Context, account Account) (*LoginResult, error) {
	result := &LoginResult{
		Kind:    grantKindForRole(account.Role),
		Account: account,
	}

	if result.Kind != GrantTokens {
		return result, nil
	}

	access, refresh, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	result.AccessToken = access
	result.RefreshToken = refresh
	return result, nil
}

// issueTokens mints an access/refresh pair and persists the refresh hash,
// replacing any previous session for the account.
func (e *Engine) issueTokens(ctx context.Context, account Account) (access, refresh string, err error) {
	access, err = e.tokens.SignAccess(account.ID, account.Email, string(account.Role), account.MasterAdmin)
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	refresh, err = e.tokens.SignRefresh(account.ID, account.Email, string(account.Role), account.MasterAdmin)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	if err := e.users.SetRefreshTokenHash(ctx, account.ID, hashToken(refresh)); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return access, refresh, nil
}

// Logout clears the stored refresh hash, invalidating the live session.
// It is idempotent; logging out twice is not an error.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if accountID == "" {
		return ErrBadRequest
	}

	if err := e.users.SetRefreshTokenHash(ctx, accountID, ""); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
