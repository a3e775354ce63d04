package latch

import (
	"errors"
	"fmt"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	"github.com/latchauth/latch/jwt"
	"github.com/latchauth/latch/password"
)

// Builder assembles an [Engine]. Methods chain; [Builder.Build] validates
// everything at once, so the order of calls never matters.
type Builder struct {
	config   Config
	redis    *redis.Client
	users    UserProvider
	notifier Notifier
	logger   *log.Logger
}

// New starts an engine builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the entire configuration. Unset fields are not
// backfilled with defaults; compose on top of [DefaultConfig] instead.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the OTP store, reset store and
// resend limiter.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithUsers sets the account store boundary.
func (b *Builder) WithUsers(users UserProvider) *Builder {
	b.users = users
	return b
}

// WithNotifier sets the outbound code-delivery boundary.
func (b *Builder) WithNotifier(notifier Notifier) *Builder {
	b.notifier = notifier
	return b
}

// WithLogger sets the structured logger used by background workers.
// Defaults to log.DefaultLogger.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles the counter system without replacing the
// rest of the configuration.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. The returned
// engine owns its dispatcher; call [Engine.Close] on shutdown.
func (b *Builder) Build() (*Engine, error) {
	if b.redis == nil {
		return nil, errors.New("latch: redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("latch: user provider is required")
	}
	if b.notifier == nil {
		return nil, errors.New("latch: notifier is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("latch: invalid config: %w", err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("latch: password hasher: %w", err)
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessSecret:  []byte(b.config.JWT.AccessSecret),
		RefreshSecret: []byte(b.config.JWT.RefreshSecret),
		AccessTTL:     b.config.JWT.AccessTTL,
		RefreshTTL:    b.config.JWT.RefreshTTL,
		Issuer:        b.config.JWT.Issuer,
		Leeway:        b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("latch: token manager: %w", err)
	}

	metrics := NewMetrics(b.config.Metrics)

	return &Engine{
		config:        b.config,
		users:         b.users,
		otpStore:      newOTPStore(b.redis),
		resetStore:    newResetStore(b.redis),
		resendLimiter: newResendLimiter(b.redis, b.config.OTP),
		dispatcher:    newNotifyDispatcher(b.config.Notify, b.notifier, b.logger, metrics),
		hasher:        hasher,
		tokens:        tokens,
		metrics:       metrics,
	}, nil
}
