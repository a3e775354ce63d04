package latch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignupCreatesAccountAndDeliversCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	notifier := newChanNotifier()
	engine := newTestEngine(t, rdb, users, notifier, nil)

	ctx := context.Background()
	account, err := engine.Signup(ctx, SignupRequest{
		Email:       "Bob@Example.com",
		Password:    "long-enough-password",
		DisplayName: "Bob",
	})
	if err != nil {
		t.Fatalf("Signup failed: %v", err)
	}

	if account.Email != "bob@example.com" {
		t.Fatalf("expected normalized email, got %q", account.Email)
	}
	if account.Role != RoleRegular {
		t.Fatalf("expected REGULAR role, got %q", account.Role)
	}
	if account.EmailVerified {
		t.Fatal("new account must start unverified")
	}

	code := notifier.waitCode(t)
	if len(code) != 6 {
		t.Fatalf("expected six-digit code, got %q", code)
	}

	verified, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", code)
	if err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}
	if !verified.EmailVerified {
		t.Fatal("expected account to be verified")
	}
	if !users.get(account.ID).EmailVerified {
		t.Fatal("verification was not persisted")
	}
}

func TestSignupRejectsDuplicateEmailAndShortPassword(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	notifier := newChanNotifier()
	engine := newTestEngine(t, rdb, users, notifier, nil)

	ctx := context.Background()
	if _, err := engine.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "long-enough-password"}); err != nil {
		t.Fatalf("first Signup failed: %v", err)
	}
	notifier.waitCode(t)

	if _, err := engine.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "long-enough-password"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := engine.Signup(ctx, SignupRequest{Email: "new@example.com", Password: "short"}); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := engine.Signup(ctx, SignupRequest{Email: "", Password: "long-enough-password"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestCodeIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	notifier := newChanNotifier()
	engine := newTestEngine(t, rdb, users, notifier, nil)

	ctx := context.Background()
	if _, err := engine.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "long-enough-password"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	code := notifier.waitCode(t)

	if _, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", code); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}

	// Second submission of the same correct code: the account is already
	// verified, so the guard rejects before the store is consulted.
	if _, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", code); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
}

func TestWrongCodeBurnsAttemptsUntilLockout(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	notifier := newChanNotifier()
	engine := newTestEngine(t, rdb, users, notifier, func(cfg *Config) {
		cfg.OTP.SignupMaxAttempts = 3
	})

	ctx := context.Background()
	if _, err := engine.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "long-enough-password"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	code := notifier.waitCode(t)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for want := 2; want >= 1; want-- {
		_, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", wrong)
		var invalid *InvalidCodeError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidCodeError, got %v", err)
		}
		if invalid.Remaining != want {
			t.Fatalf("expected %d remaining, got %d", want, invalid.Remaining)
		}
		if !errors.Is(err, ErrCodeInvalid) {
			t.Fatal("InvalidCodeError must unwrap to ErrCodeInvalid")
		}
	}

	// Third wrong guess reaches the ceiling and locks the challenge.
	if _, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", wrong); !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("expected ErrCodeAttemptsExceeded, got %v", err)
	}

	// A fourth attempt with the correct code still reports the lockout,
	// not a missing challenge.
	_, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", code)
	if !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("expected ErrCodeAttemptsExceeded for correct code after lockout, got %v", err)
	}
	if Class(err) != ClassRateLimited {
		t.Fatalf("expected ClassRateLimited, got %v", Class(err))
	}

	// Once the challenge expires, the lockout gives way to no-active-code.
	mr.FastForward(engine.config.OTP.TTL + time.Minute)
	if _, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", code); !errors.Is(err, ErrNoActiveCode) {
		t.Fatalf("expected ErrNoActiveCode after expiry, got %v", err)
	}
}

func TestRequestEmailVerificationReplacesPendingCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	notifier := newChanNotifier()
	engine := newTestEngine(t, rdb, users, notifier, func(cfg *Config) {
		cfg.OTP.ResendMax = 10
	})

	ctx := context.Background()
	if _, err := engine.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "long-enough-password"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	first := notifier.waitCode(t)

	if err := engine.RequestEmailVerification(ctx, "bob@example.com"); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	second := notifier.waitCode(t)

	if first != second {
		// Old code must be dead once replaced.
		if _, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", first); err == nil {
			t.Fatal("expected replaced code to be rejected")
		}
	}

	if _, err := engine.ConfirmEmailVerification(ctx, "bob@example.com", second); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
}

func TestRequestEmailVerificationGuards(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	engine := newTestEngine(t, rdb, users, newChanNotifier(), nil)
	users.put(Account{ID: "v1", Email: "done@example.com", EmailVerified: true, Role: RoleRegular})

	ctx := context.Background()
	if err := engine.RequestEmailVerification(ctx, "nobody@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := engine.RequestEmailVerification(ctx, "done@example.com"); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
	if _, err := engine.ConfirmEmailVerification(ctx, "done@example.com", "123456"); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified on confirm, got %v", err)
	}
	if _, err := engine.ConfirmEmailVerification(ctx, "done@example.com", "12a456"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for malformed code, got %v", err)
	}
}

func TestResendRateLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	notifier := newChanNotifier()
	engine := newTestEngine(t, rdb, users, notifier, func(cfg *Config) {
		cfg.OTP.ResendMax = 2
	})

	ctx := context.Background()
	if _, err := engine.Signup(ctx, SignupRequest{Email: "bob@example.com", Password: "long-enough-password"}); err != nil {
		t.Fatalf("Signup failed: %v", err)
	}
	notifier.waitCode(t)

	if err := engine.RequestEmailVerification(ctx, "bob@example.com"); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	notifier.waitCode(t)

	if err := engine.RequestEmailVerification(ctx, "bob@example.com"); !errors.Is(err, ErrResendRateLimited) {
		t.Fatalf("expected ErrResendRateLimited, got %v", err)
	}
	if engine.metrics.Value(MetricCodeResendRateLimited) == 0 {
		t.Fatal("expected rate-limit counter to increment")
	}
}
