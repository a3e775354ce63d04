package latch

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is returned when an operation runs before all
	// engine dependencies were wired by the builder.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrInvalidCredentials covers every credential failure on the login
	// path: unknown email, missing password hash (OAuth-only account),
	// hash mismatch, and role mismatch. Callers must not distinguish
	// between them.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountNotFound is returned only on paths where account
	// existence is already public knowledge (signup verification).
	ErrAccountNotFound = errors.New("account not found")

	// ErrEmailTaken is returned when signup or OAuth linking collides
	// with an existing email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrProviderTaken is returned when an OAuth (provider, provider id)
	// pair is already linked to another account.
	ErrProviderTaken = errors.New("oauth provider account already linked")

	// ErrEmailAlreadyVerified rejects verification requests for accounts
	// whose email is already confirmed.
	ErrEmailAlreadyVerified = errors.New("email already verified")

	// ErrNoActiveCode is returned when no unused, unexpired OTP exists
	// for the (account, purpose) pair. Expired and missing codes are
	// deliberately indistinguishable.
	ErrNoActiveCode = errors.New("no active verification code")

	// ErrCodeInvalid is the base error for a wrong OTP guess. The
	// returned error is an [*InvalidCodeError] carrying the remaining
	// attempt count; match it with errors.Is(err, ErrCodeInvalid).
	ErrCodeInvalid = errors.New("invalid verification code")

	// ErrCodeAttemptsExceeded is the rate-limit signal: the OTP attempt
	// ceiling was reached and the challenge is locked until it expires.
	// Correct codes are rejected with this error too. Clients should
	// back off and request a new code.
	ErrCodeAttemptsExceeded = errors.New("verification attempts exceeded")

	// ErrResendRateLimited throttles repeated code generation for the
	// same address.
	ErrResendRateLimited = errors.New("code requests rate limited")

	// ErrRefreshInvalid covers every refresh-token failure: bad
	// signature, expired, no stored hash, hash mismatch, and
	// lost rotation races.
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrResetTokenInvalid covers every reset-credential failure: bad
	// format, unknown, expired, already used.
	ErrResetTokenInvalid = errors.New("invalid reset token")

	// ErrPasswordPolicy is returned when a new password does not meet
	// the minimum length policy.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrPasswordMismatch is returned when the confirmation password
	// does not match.
	ErrPasswordMismatch = errors.New("password confirmation mismatch")

	// ErrBadRequest is returned for structurally invalid input (empty
	// email, empty code, malformed token encoding).
	ErrBadRequest = errors.New("invalid request")

	// ErrStoreUnavailable wraps backend failures (Redis, user store)
	// that are not a caller mistake.
	ErrStoreUnavailable = errors.New("auth backend unavailable")

	// ErrRefreshStale is returned by [UserProvider.SwapRefreshTokenHash]
	// implementations when the expected hash no longer matches; the
	// engine maps it to ErrRefreshInvalid.
	ErrRefreshStale = errors.New("stored refresh token hash changed")
)

// InvalidCodeError is a wrong-OTP failure with the number of attempts
// left before the challenge locks. It unwraps to [ErrCodeInvalid].
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid verification code, %d attempts remaining", e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrCodeInvalid }

// ErrorClass buckets engine failures for transport mapping. The request
// layer owns the actual status codes; the engine only promises that
// enumeration-sensitive failures all land in ClassUnauthorized.
type ErrorClass uint8

const (
	// ClassInternal is the fallback for backend and configuration faults.
	ClassInternal ErrorClass = iota
	// ClassNotFound maps to 404-equivalent responses.
	ClassNotFound
	// ClassUnauthorized maps to 401-equivalent responses.
	ClassUnauthorized
	// ClassConflict maps to 409-equivalent responses.
	ClassConflict
	// ClassRateLimited maps to 429-equivalent responses.
	ClassRateLimited
	// ClassBadInput maps to 400-equivalent responses.
	ClassBadInput
)

// Class maps an engine error to its taxonomy bucket.
func Class(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrResetTokenInvalid),
		errors.Is(err, ErrNoActiveCode),
		errors.Is(err, ErrCodeInvalid):
		return ClassUnauthorized
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrProviderTaken),
		errors.Is(err, ErrEmailAlreadyVerified):
		return ClassConflict
	case errors.Is(err, ErrCodeAttemptsExceeded),
		errors.Is(err, ErrResendRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrPasswordMismatch):
		return ClassBadInput
	default:
		return ClassInternal
	}
}
