package latch

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latchauth/latch/jwt"
	"github.com/latchauth/latch/password"
)

// Engine is the authentication core. Build one with [New]; it is safe
// for concurrent use once built.
type Engine struct {
	config Config

	users         UserProvider
	otpStore      *otpStore
	resetStore    *resetStore
	resendLimiter *resendLimiter
	dispatcher    *notifyDispatcher
	hasher        *password.Hasher
	tokens        *jwt.Manager
	metrics       *Metrics
}

// Close drains the outbound-delivery queue and stops its workers.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
}

// MetricsSnapshot returns a deep copy of all counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// NotifyDropped reports code deliveries discarded because the dispatch
// queue was full.
func (e *Engine) NotifyDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.otpStore == nil || e.resetStore == nil ||
		e.hasher == nil || e.tokens == nil || e.dispatcher == nil {
		return ErrEngineNotReady
	}
	return nil
}

// normalizeEmail is applied before every lookup and every stored write,
// so case and whitespace variants resolve to the same account.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newAccountID returns a UUIDv7: time-ordered, so account ids sort by
// creation time.
func newAccountID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// hashToken is the storage hash for refresh tokens: the plaintext JWT
// never touches the user store.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// sleepEnumerationDelay equalizes the observable timing of account-miss
// paths that must not reveal existence.
func sleepEnumerationDelay(ctx context.Context) error {
	const (
		minMs = 20
		maxMs = 40
	)

	n, err := rand.Int(rand.Reader, big.NewInt(maxMs-minMs+1))
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(minMs+n.Int64()) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isSixDigitCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
