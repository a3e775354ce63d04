package latch

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

type envConfig struct {
	AccessSecret  string        `env:"LATCH_JWT_ACCESS_SECRET"`
	RefreshSecret string        `env:"LATCH_JWT_REFRESH_SECRET"`
	EncryptionKey string        `env:"LATCH_ENCRYPTION_KEY"`
	Issuer        string        `env:"LATCH_JWT_ISSUER"`
	AccessTTL     time.Duration `env:"LATCH_JWT_ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"LATCH_JWT_REFRESH_TTL"`
	OTPTTL        time.Duration `env:"LATCH_OTP_TTL"`
	ResetTTL      time.Duration `env:"LATCH_RESET_TTL"`
}

// ConfigFromEnv layers LATCH_* environment variables over
// [DefaultConfig]. Only secrets and lifetimes are environment-tunable;
// everything else is code-owned. The result is not validated here; the
// builder does that.
func ConfigFromEnv() (Config, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = e.AccessSecret
	cfg.JWT.RefreshSecret = e.RefreshSecret
	cfg.Crypto.EncryptionKey = e.EncryptionKey
	if e.Issuer != "" {
		cfg.JWT.Issuer = e.Issuer
	}
	if e.AccessTTL > 0 {
		cfg.JWT.AccessTTL = e.AccessTTL
	}
	if e.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = e.RefreshTTL
	}
	if e.OTPTTL > 0 {
		cfg.OTP.TTL = e.OTPTTL
	}
	if e.ResetTTL > 0 {
		cfg.Reset.TTL = e.ResetTTL
	}

	return cfg, nil
}

type fileConfig struct {
	JWT struct {
		AccessSecret  string `toml:"access_secret"`
		RefreshSecret string `toml:"refresh_secret"`
		Issuer        string `toml:"issuer"`
		AccessTTL     string `toml:"access_ttl"`
		RefreshTTL    string `toml:"refresh_ttl"`
	} `toml:"jwt"`
	OTP struct {
		TTL               string `toml:"ttl"`
		SignupMaxAttempts int    `toml:"signup_max_attempts"`
		ResetMaxAttempts  int    `toml:"reset_max_attempts"`
		ResendWindow      string `toml:"resend_window"`
		ResendMax         int    `toml:"resend_max"`
	} `toml:"otp"`
	Reset struct {
		TTL string `toml:"ttl"`
	} `toml:"reset"`
	Crypto struct {
		EncryptionKey string `toml:"encryption_key"`
	} `toml:"crypto"`
	Notify struct {
		BufferSize int    `toml:"buffer_size"`
		Workers    int    `toml:"workers"`
		MaxRetries int    `toml:"max_retries"`
		RetryDelay string `toml:"retry_delay"`
	} `toml:"notify"`
	// Pointer so an absent [metrics] table keeps the defaults; a bool
	// zero value cannot distinguish "omitted" from "disabled".
	Metrics *struct {
		Enabled                 bool `toml:"enabled"`
		EnableLatencyHistograms bool `toml:"latency_histograms"`
	} `toml:"metrics"`
}

// LoadConfigFile layers a TOML file over [DefaultConfig]. Durations are
// strings in time.ParseDuration syntax ("10m", "168h").
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()

	cfg.JWT.AccessSecret = f.JWT.AccessSecret
	cfg.JWT.RefreshSecret = f.JWT.RefreshSecret
	if f.JWT.Issuer != "" {
		cfg.JWT.Issuer = f.JWT.Issuer
	}
	if err := setDuration(&cfg.JWT.AccessTTL, f.JWT.AccessTTL); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.JWT.RefreshTTL, f.JWT.RefreshTTL); err != nil {
		return Config{}, err
	}

	if err := setDuration(&cfg.OTP.TTL, f.OTP.TTL); err != nil {
		return Config{}, err
	}
	if f.OTP.SignupMaxAttempts > 0 {
		cfg.OTP.SignupMaxAttempts = f.OTP.SignupMaxAttempts
	}
	if f.OTP.ResetMaxAttempts > 0 {
		cfg.OTP.ResetMaxAttempts = f.OTP.ResetMaxAttempts
	}
	if err := setDuration(&cfg.OTP.ResendWindow, f.OTP.ResendWindow); err != nil {
		return Config{}, err
	}
	if f.OTP.ResendMax > 0 {
		cfg.OTP.ResendMax = f.OTP.ResendMax
	}

	if err := setDuration(&cfg.Reset.TTL, f.Reset.TTL); err != nil {
		return Config{}, err
	}

	cfg.Crypto.EncryptionKey = f.Crypto.EncryptionKey

	if f.Notify.BufferSize > 0 {
		cfg.Notify.BufferSize = f.Notify.BufferSize
	}
	if f.Notify.Workers > 0 {
		cfg.Notify.Workers = f.Notify.Workers
	}
	if f.Notify.MaxRetries > 0 {
		cfg.Notify.MaxRetries = f.Notify.MaxRetries
	}
	if err := setDuration(&cfg.Notify.RetryDelay, f.Notify.RetryDelay); err != nil {
		return Config{}, err
	}

	if f.Metrics != nil {
		cfg.Metrics.Enabled = f.Metrics.Enabled
		cfg.Metrics.EnableLatencyHistograms = f.Metrics.EnableLatencyHistograms
	}

	return cfg, nil
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*dst = d
	return nil
}
