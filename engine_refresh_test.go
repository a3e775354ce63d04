package latch

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func adminWithSession(t *testing.T, engine *Engine, users *mockProvider) *LoginResult {
	t.Helper()

	seedPasswordAccount(t, engine, users, "a1", "root@example.com", "correct-horse-battery", RolePlatformAdmin)
	result, err := engine.AdminLogin(context.Background(), "root@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("AdminLogin failed: %v", err)
	}
	return result
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	engine := newTestEngine(t, rdb, users, newChanNotifier(), nil)
	login := adminWithSession(t, engine, users)

	ctx := context.Background()
	pair, err := engine.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if users.get("a1").RefreshTokenHash != hashToken(pair.RefreshToken) {
		t.Fatal("stored hash does not track the new token")
	}

	if _, err := engine.tokens.ParseAccess(pair.AccessToken); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}
}

func TestRefreshRejectsRotatedToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	engine := newTestEngine(t, rdb, users, newChanNotifier(), nil)
	login := adminWithSession(t, engine, users)

	ctx := context.Background()
	if _, err := engine.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	// The original token is validly signed but already rotated away.
	if _, err := engine.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid on replay, got %v", err)
	}
	if engine.metrics.Value(MetricRefreshReuseDetected) == 0 {
		t.Fatal("expected reuse detection counter to increment")
	}
}

func TestRefreshRejectsGarbageAndWrongClass(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	engine := newTestEngine(t, rdb, users, newChanNotifier(), nil)
	login := adminWithSession(t, engine, users)

	ctx := context.Background()
	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"access token": login.AccessToken,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := engine.Refresh(ctx, token); !errors.Is(err, ErrRefreshInvalid) {
				t.Fatalf("expected ErrRefreshInvalid, got %v", err)
			}
		})
	}
}

func TestRefreshRejectsDemotedAccount(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	engine := newTestEngine(t, rdb, users, newChanNotifier(), nil)
	login := adminWithSession(t, engine, users)

	demoted := users.get("a1")
	demoted.Role = RoleRegular
	users.put(demoted)

	if _, err := engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected demoted account refresh to fail, got %v", err)
	}
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	users := newMockProvider()
	engine := newTestEngine(t, rdb, users, newChanNotifier(), nil)
	login := adminWithSession(t, engine, users)

	const racers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		failures int
	)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(context.Background(), login.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.Is(err, ErrRefreshInvalid) {
				failures++
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if failures != racers-1 {
		t.Fatalf("expected %d losers with ErrRefreshInvalid, got %d", racers-1, failures)
	}
}
