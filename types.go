package latch

import (
	"context"
	"time"
)

// Role is the authorization tier of an account. Token-bearing login is
// reserved for RolePlatformAdmin; regular accounts authenticate with
// profile data only.
type Role string

const (
	// RoleRegular is the default role assigned on signup.
	RoleRegular Role = "REGULAR"
	// RolePlatformAdmin is the elevated role; the only role that is
	// issued access/refresh tokens.
	RolePlatformAdmin Role = "PLATFORM_ADMIN"
)

// OTPPurpose separates one-time-passcode challenges. At most one active
// challenge exists per (account, purpose).
type OTPPurpose uint8

const (
	// PurposeSignupVerification confirms control of the signup email.
	PurposeSignupVerification OTPPurpose = iota
	// PurposePasswordReset gates the password-reset flow.
	PurposePasswordReset
)

func (p OTPPurpose) String() string {
	switch p {
	case PurposeSignupVerification:
		return "signup_verification"
	case PurposePasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// Account is the identity and credential record owned by the engine.
// IDs are UUIDv7 (time-ordered, sortable). PasswordHash is empty for
// OAuth-only accounts; Provider/ProviderID are empty for password-only
// accounts; never both.
//
// ProviderAccessToken and ProviderRefreshToken are plaintext in process.
// [UserProvider] implementations encrypt them at rest and decrypt them on
// read, so engine code never sees ciphertext.
type Account struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          Role
	MasterAdmin   bool
	EmailVerified bool

	// RefreshTokenHash is the hex sha256 of the single live refresh
	// token, empty when no session exists. Rotation replaces it.
	RefreshTokenHash string

	Provider             string
	ProviderID           string
	ProviderAccessToken  string
	ProviderRefreshToken string
	ProviderTokenExpiry  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether the account can authenticate with a
// password at all.
func (a Account) HasPassword() bool { return a.PasswordHash != "" }

// CreateAccountInput is the input for [UserProvider.Create].
type CreateAccountInput struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
}

// CreateOAuthAccountInput is the input for [UserProvider.CreateOAuthUser].
// OAuth-created accounts are born email-verified: the provider already
// proved control of the address.
type CreateOAuthAccountInput struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
	Link        OAuthLink
}

// OAuthLink carries provider identity and tokens for linking or updating
// an account's OAuth binding. Tokens are plaintext here; the provider
// boundary encrypts them.
type OAuthLink struct {
	Provider     string
	ProviderID   string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

// UserProvider is the user-store boundary the caller implements to
// integrate latch with their account database.
//
// Lookup methods return [ErrAccountNotFound] when no record matches.
// Create returns [ErrEmailTaken] on email collision; LinkOAuthAccount
// returns [ErrProviderTaken] when the (provider, provider id) pair is
// already bound elsewhere. SwapRefreshTokenHash must be a conditional
// update: it replaces the stored hash only while it still equals
// expected, and returns [ErrRefreshStale] otherwise. This is the guard
// that makes concurrent refresh rotation safe.
type UserProvider interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	FindByProvider(ctx context.Context, provider, providerID string) (Account, error)

	Create(ctx context.Context, input CreateAccountInput) (Account, error)
	CreateOAuthUser(ctx context.Context, input CreateOAuthAccountInput) (Account, error)
	LinkOAuthAccount(ctx context.Context, accountID string, link OAuthLink) (Account, error)
	UpdateProviderTokens(ctx context.Context, accountID string, link OAuthLink) error

	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error
	SetEmailVerified(ctx context.Context, accountID string) error

	// SetRefreshTokenHash overwrites the stored hash unconditionally;
	// an empty hash clears it (forced logout).
	SetRefreshTokenHash(ctx context.Context, accountID, hash string) error
	SwapRefreshTokenHash(ctx context.Context, accountID, expected, next string) error
}

// Notifier is the outbound delivery boundary. Delivery runs on the
// engine's dispatcher, never on the request goroutine; a false return or
// an error is logged and counted, not surfaced to the caller.
type Notifier interface {
	SendCode(ctx context.Context, address, displayName, code string, purpose OTPPurpose) (bool, error)
}

// GrantKind is the two-variant login outcome: elevated roles get tokens,
// everyone else gets profile data only.
type GrantKind uint8

const (
	// GrantProfileOnly carries the account and no tokens.
	GrantProfileOnly GrantKind = iota
	// GrantTokens carries an access/refresh pair in addition to the
	// account.
	GrantTokens
)

// grantKindForRole is the single place deciding which login variant a
// role receives.
func grantKindForRole(role Role) GrantKind {
	if role == RolePlatformAdmin {
		return GrantTokens
	}
	return GrantProfileOnly
}

// LoginResult is returned by the login and OAuth entry points. Tokens
// are set only when Kind == GrantTokens.
type LoginResult struct {
	Kind         GrantKind
	Account      Account
	AccessToken  string
	RefreshToken string
}

// TokenPair is returned by [Engine.Refresh].
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SignupRequest is the input for [Engine.Signup].
type SignupRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// OAuthProfile is the normalized result of a provider callback, parsed
// by the caller. Provider-specific profile shapes stay outside the
// engine.
type OAuthProfile struct {
	Provider     string
	ProviderID   string
	Email        string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}
