package latch

import (
	"errors"
	"fmt"
	"time"
)

const (
	minSecretLength = 32

	// Attempt ceilings are stored as uint16 in challenge records; the
	// cap keeps the conversion safe and the knob inside sane bounds.
	maxAttemptCeiling = 100
)

// Config is the complete engine configuration. All secrets arrive here
// explicitly; no component reads the process environment on its own.
// [Config.Validate] fails fast on anything weak or missing.
type Config struct {
	Password PasswordConfig
	OTP      OTPConfig
	JWT      JWTConfig
	Reset    ResetConfig
	Crypto   CryptoConfig
	Notify   NotifyConfig
	Metrics  MetricsConfig
}

// PasswordConfig holds the Argon2id cost parameters and the engine's
// password length policy.
type PasswordConfig struct {
	MinLength   int
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// OTPConfig governs one-time-passcode challenges. Codes are always six
// decimal digits; attempt ceilings are per purpose.
type OTPConfig struct {
	TTL time.Duration

	SignupMaxAttempts int
	ResetMaxAttempts  int

	// ResendWindow/ResendMax throttle code generation per (purpose,
	// email): at most ResendMax codes per window.
	ResendWindow time.Duration
	ResendMax    int
}

// JWTConfig holds token secrets and lifetimes. Secrets must be at least
// 32 bytes and distinct from each other.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// ResetConfig governs the single-use reset credentials minted after a
// successful password-reset OTP.
type ResetConfig struct {
	TTL time.Duration
}

// CryptoConfig holds the master secret for at-rest encryption of OAuth
// provider tokens. Empty disables validation here; providers that need a
// box construct it themselves and fail at startup on a short key.
type CryptoConfig struct {
	EncryptionKey string
}

// NotifyConfig shapes the outbound-delivery dispatcher.
type NotifyConfig struct {
	BufferSize int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns the documented defaults: 15m/7d token lifetimes,
// 10-minute codes with 5 signup / 3 reset attempts, 15-minute reset
// credentials. Secrets are intentionally absent; Validate rejects the
// default config until they are set.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			MinLength:   8,
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		OTP: OTPConfig{
			TTL:               10 * time.Minute,
			SignupMaxAttempts: 5,
			ResetMaxAttempts:  3,
			ResendWindow:      time.Minute,
			ResendMax:         3,
		},
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "latch",
		},
		Reset: ResetConfig{
			TTL: 15 * time.Minute,
		},
		Notify: NotifyConfig{
			BufferSize: 256,
			Workers:    2,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects weak or inconsistent configuration. It runs at build
// time so misconfiguration is a startup failure, not a first-request
// surprise.
func (c Config) Validate() error {
	if c.Password.MinLength < 8 {
		return errors.New("password MinLength must be at least 8")
	}

	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be positive")
	}
	if c.OTP.SignupMaxAttempts < 1 || c.OTP.ResetMaxAttempts < 1 {
		return errors.New("OTP attempt ceilings must be at least 1")
	}
	if c.OTP.SignupMaxAttempts > maxAttemptCeiling || c.OTP.ResetMaxAttempts > maxAttemptCeiling {
		return fmt.Errorf("OTP attempt ceilings must not exceed %d", maxAttemptCeiling)
	}
	if c.OTP.ResendWindow <= 0 || c.OTP.ResendMax < 1 {
		return errors.New("OTP resend throttle must be configured")
	}

	if len(c.JWT.AccessSecret) < minSecretLength {
		return fmt.Errorf("JWT access secret must be at least %d characters", minSecretLength)
	}
	if len(c.JWT.RefreshSecret) < minSecretLength {
		return fmt.Errorf("JWT refresh secret must be at least %d characters", minSecretLength)
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("JWT access and refresh secrets must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT TTLs must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT refresh TTL must exceed access TTL")
	}

	if c.Reset.TTL <= 0 {
		return errors.New("reset TTL must be positive")
	}

	if c.Crypto.EncryptionKey != "" && len(c.Crypto.EncryptionKey) < minSecretLength {
		return fmt.Errorf("encryption key must be at least %d characters", minSecretLength)
	}

	if c.Notify.BufferSize < 1 {
		return errors.New("notify buffer size must be at least 1")
	}
	if c.Notify.Workers < 1 {
		return errors.New("notify workers must be at least 1")
	}
	if c.Notify.MaxRetries < 0 {
		return errors.New("notify retries must not be negative")
	}

	return nil
}
