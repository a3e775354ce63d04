package latch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResendLimiterWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	limiter := newResendLimiter(rdb, OTPConfig{
		ResendWindow: time.Minute,
		ResendMax:    2,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := limiter.Check(ctx, PurposeSignupVerification, "a@example.com"); err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
	}
	if err := limiter.Check(ctx, PurposeSignupVerification, "a@example.com"); !errors.Is(err, ErrResendRateLimited) {
		t.Fatalf("expected ErrResendRateLimited, got %v", err)
	}

	// Other addresses and other purposes are unaffected.
	if err := limiter.Check(ctx, PurposeSignupVerification, "b@example.com"); err != nil {
		t.Fatalf("other address throttled: %v", err)
	}
	if err := limiter.Check(ctx, PurposePasswordReset, "a@example.com"); err != nil {
		t.Fatalf("other purpose throttled: %v", err)
	}

	// Window rollover frees the address.
	mr.FastForward(2 * time.Minute)
	if err := limiter.Check(ctx, PurposeSignupVerification, "a@example.com"); err != nil {
		t.Fatalf("check after window failed: %v", err)
	}
}

func TestResendLimiterFallsBackWhenRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)

	limiter := newResendLimiter(rdb, OTPConfig{
		ResendWindow: time.Minute,
		ResendMax:    2,
	})
	mr.Close()

	// Local token bucket still admits an initial burst and then throttles.
	ctx := context.Background()
	var limited bool
	for i := 0; i < 5; i++ {
		if err := limiter.Check(ctx, PurposeSignupVerification, "a@example.com"); errors.Is(err, ErrResendRateLimited) {
			limited = true
		}
	}
	if !limited {
		t.Fatal("expected fallback limiter to throttle")
	}
}
