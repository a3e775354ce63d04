package latch

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// Refresh rotates a refresh token: the presented token is verified
// against both its signature and the stored hash, then atomically
// replaced by a fresh pair. Every failure is ErrRefreshInvalid; a token
// that loses a concurrent rotation race or resurfaces after rotation is
// treated as reuse and rejected the same way.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	account, err := e.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Claims are only a pointer to the account; role and flags come from
	// the store so a demotion takes effect on the next rotation.
	if grantKindForRole(account.Role) != GrantTokens {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	presented := hashToken(refreshToken)
	if account.RefreshTokenHash == "" {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(account.RefreshTokenHash)) != 1 {
		// A validly signed token that no longer matches the stored hash
		// was already rotated away: likely replay of a stolen token.
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshInvalid
	}

	access, err := e.tokens.SignAccess(account.ID, account.Email, string(account.Role), account.MasterAdmin)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	next, err := e.tokens.SignRefresh(account.ID, account.Email, string(account.Role), account.MasterAdmin)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	// Conditional swap: if another rotation landed between the read and
	// here, exactly one caller wins and the loser's token is dead.
	if err := e.users.SwapRefreshTokenHash(ctx, account.ID, presented, hashToken(next)); err != nil {
		if errors.Is(err, ErrRefreshStale) {
			e.metricInc(MetricRefreshReuseDetected)
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricRefreshSuccess)
	return &TokenPair{AccessToken: access, RefreshToken: next}, nil
}
