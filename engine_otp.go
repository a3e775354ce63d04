package latch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/latchauth/latch/internal"
)

// RequestEmailVerification generates and queues a fresh signup code,
// replacing any pending one. The signup flow already disclosed whether
// the address is registered, so an unknown email fails openly with
// ErrAccountNotFound here.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email required", ErrBadRequest)
	}

	account, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	return e.issueCode(ctx, account, PurposeSignupVerification)
}

// ConfirmEmailVerification checks a signup code and marks the account
// verified. A correct code works exactly once; wrong guesses burn an
// attempt each, and the challenge dies at the ceiling.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, email, code string) (Account, error) {
	if err := e.ready(); err != nil {
		return Account{}, err
	}

	email = normalizeEmail(email)
	if email == "" || !isSixDigitCode(code) {
		return Account{}, fmt.Errorf("%w: email and six-digit code required", ErrBadRequest)
	}

	account, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if account.EmailVerified {
		return Account{}, ErrEmailAlreadyVerified
	}

	start := time.Now()
	if _, err := e.consumeCode(ctx, account.ID, PurposeSignupVerification, code); err != nil {
		return Account{}, err
	}
	e.metrics.Observe(MetricVerifyLatency, time.Since(start))

	if err := e.users.SetEmailVerified(ctx, account.ID); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	account.EmailVerified = true
	e.metricInc(MetricCodeVerified)
	return account, nil
}

// issueCode runs the shared generation path: throttle, mint, hash,
// store, queue delivery. The plaintext code exists only in the delivery
// job; storage sees the hash.
func (e *Engine) issueCode(ctx context.Context, account Account, purpose OTPPurpose) error {
	if err := e.resendLimiter.Check(ctx, purpose, account.Email); err != nil {
		e.metricInc(MetricCodeResendRateLimited)
		return err
	}

	code, err := internal.NewCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	maxAttempts := e.config.OTP.SignupMaxAttempts
	if purpose == PurposePasswordReset {
		maxAttempts = e.config.OTP.ResetMaxAttempts
	}

	record := &otpRecord{
		AccountID:   account.ID,
		CodeHash:    internal.HashCode(code),
		ExpiresAt:   time.Now().Add(e.config.OTP.TTL).Unix(),
		Attempts:    0,
		MaxAttempts: uint16(maxAttempts),
	}
	if err := e.otpStore.Save(ctx, purpose, record, e.config.OTP.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.dispatcher.Emit(notifyJob{
		address:     account.Email,
		displayName: account.DisplayName,
		code:        code,
		purpose:     purpose,
	})

	e.metricInc(MetricCodeIssued)
	return nil
}

// consumeCode translates store outcomes to the public error taxonomy.
func (e *Engine) consumeCode(ctx context.Context, accountID string, purpose OTPPurpose, code string) (*otpRecord, error) {
	record, err := e.otpStore.Consume(ctx, accountID, purpose, code)
	if err == nil {
		return record, nil
	}

	var mismatch *errOTPMismatch
	switch {
	case errors.Is(err, errOTPNotFound):
		e.metricInc(MetricCodeFailure)
		return nil, ErrNoActiveCode
	case errors.Is(err, errOTPAttemptsExceeded):
		e.metricInc(MetricCodeAttemptsExceeded)
		return nil, ErrCodeAttemptsExceeded
	case errors.As(err, &mismatch):
		e.metricInc(MetricCodeFailure)
		return nil, &InvalidCodeError{Remaining: mismatch.remaining}
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
