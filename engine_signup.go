package latch

import (
	"context"
	"errors"
	"fmt"
)

// Signup registers a password account with the REGULAR role and queues a
// signup-verification code for the new address. The account starts
// unverified; [Engine.ConfirmEmailVerification] flips it.
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (Account, error) {
	if err := e.ready(); err != nil {
		return Account{}, err
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return Account{}, fmt.Errorf("%w: email required", ErrBadRequest)
	}
	if len(req.Password) < e.config.Password.MinLength {
		return Account{}, ErrPasswordPolicy
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := newAccountID()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	account, err := e.users.Create(ctx, CreateAccountInput{
		ID:           id,
		Email:        email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         RoleRegular,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.metricInc(MetricSignupDuplicate)
			return Account{}, ErrEmailTaken
		}
		return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSignupSuccess)

	// The account exists even if code generation fails; the caller can
	// always request a fresh code.
	if err := e.issueCode(ctx, account, PurposeSignupVerification); err != nil {
		return account, err
	}

	return account, nil
}
