package latch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/latchauth/latch/internal"
)

// RequestPasswordReset generates and queues a reset code. It returns nil
// for unknown addresses and OAuth-only accounts alike: nothing about the
// response reveals whether a resettable account exists. The resend
// throttle runs before the lookup for the same reason.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email required", ErrBadRequest)
	}

	if err := e.resendLimiter.Check(ctx, PurposePasswordReset, email); err != nil {
		e.metricInc(MetricCodeResendRateLimited)
		return err
	}

	account, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return sleepEnumerationDelay(ctx)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !account.HasPassword() {
		return sleepEnumerationDelay(ctx)
	}

	code, err := internal.NewCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	record := &otpRecord{
		AccountID:   account.ID,
		CodeHash:    internal.HashCode(code),
		ExpiresAt:   time.Now().Add(e.config.OTP.TTL).Unix(),
		MaxAttempts: uint16(e.config.OTP.ResetMaxAttempts),
	}
	if err := e.otpStore.Save(ctx, PurposePasswordReset, record, e.config.OTP.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.dispatcher.Emit(notifyJob{
		address:     account.Email,
		displayName: account.DisplayName,
		code:        code,
		purpose:     PurposePasswordReset,
	})

	e.metricInc(MetricCodeIssued)
	return nil
}

// ConfirmPasswordReset checks a reset code and exchanges it for a
// single-use reset credential. The returned token is shown exactly once;
// only its secret hash is stored. Unknown addresses fail like a spent
// code so this endpoint cannot be used for enumeration either.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code string) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	email = normalizeEmail(email)
	if email == "" || !isSixDigitCode(code) {
		return "", fmt.Errorf("%w: email and six-digit code required", ErrBadRequest)
	}

	account, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricCodeFailure)
			return "", ErrNoActiveCode
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := e.consumeCode(ctx, account.ID, PurposePasswordReset, code); err != nil {
		return "", err
	}
	e.metricInc(MetricCodeVerified)

	rid, err := internal.NewResetID()
	if err != nil {
		return "", fmt.Errorf("generate reset id: %w", err)
	}
	secret, err := internal.NewResetSecret()
	if err != nil {
		return "", fmt.Errorf("generate reset secret: %w", err)
	}

	record := &resetRecord{
		AccountID:  account.ID,
		SecretHash: internal.HashResetSecret(secret),
		ExpiresAt:  time.Now().Add(e.config.Reset.TTL).Unix(),
	}
	if err := e.resetStore.Save(ctx, rid.String(), record, e.config.Reset.TTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricResetIssued)
	return internal.EncodeResetToken(rid, secret), nil
}

// CompletePasswordReset redeems a reset credential and sets the new
// password. Success also clears the stored refresh hash, so any live
// admin session dies with the old password.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword, confirmPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if len(newPassword) < e.config.Password.MinLength {
		return ErrPasswordPolicy
	}

	rid, secret, err := internal.DecodeResetToken(token)
	if err != nil {
		e.metricInc(MetricResetConfirmFailure)
		return ErrResetTokenInvalid
	}

	record, err := e.resetStore.Consume(ctx, rid.String(), internal.HashResetSecret(secret))
	if err != nil {
		switch {
		case errors.Is(err, errResetNotFound), errors.Is(err, errResetSecretMismatch):
			e.metricInc(MetricResetConfirmFailure)
			return ErrResetTokenInvalid
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := e.users.UpdatePasswordHash(ctx, record.AccountID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.users.SetRefreshTokenHash(ctx, record.AccountID, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Best effort cleanup; the consumed credential is already gone and
	// any sibling died when Save retired it.
	_ = e.resetStore.PurgeAccount(ctx, record.AccountID)
	_ = e.otpStore.Invalidate(ctx, record.AccountID, PurposePasswordReset)

	e.metricInc(MetricResetConfirmSuccess)
	return nil
}
