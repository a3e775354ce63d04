package latch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latchauth/latch/internal"
)

const (
	otpKeyPrefix       = "lotp"
	otpRecordVersionV1 = 1
)

var (
	errOTPNotFound         = errors.New("otp record not found")
	errOTPAttemptsExceeded = errors.New("otp attempts exceeded")
	errOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// errOTPMismatch is a wrong guess with the attempts left before lockout.
type errOTPMismatch struct {
	remaining int
}

func (e *errOTPMismatch) Error() string {
	return fmt.Sprintf("otp secret mismatch, %d remaining", e.remaining)
}

// otpRecord is the persisted challenge. Keys are (account, purpose), so
// saving a new record implicitly invalidates any prior pending code for
// that purpose; at most one active challenge exists at a time.
type otpRecord struct {
	AccountID   string
	CodeHash    [32]byte
	ExpiresAt   int64
	Attempts    uint16
	MaxAttempts uint16
}

type otpStore struct {
	redis  *redis.Client
	prefix string
}

func newOTPStore(redisClient *redis.Client) *otpStore {
	return &otpStore{
		redis:  redisClient,
		prefix: otpKeyPrefix,
	}
}

func (s *otpStore) key(accountID string, purpose OTPPurpose) string {
	return s.prefix + ":" + purpose.String() + ":" + accountID
}

// Save persists a fresh challenge, replacing any pending one for the
// same (account, purpose). The Redis TTL doubles as the maintenance
// sweep: expired records vanish without a cleanup job.
func (s *otpStore) Save(ctx context.Context, purpose OTPPurpose, record *otpRecord, ttl time.Duration) error {
	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(record.AccountID, purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}

	return nil
}

// Consume runs one verification attempt atomically. The WATCH loop
// serializes concurrent guesses against the same challenge: attempt
// increments are conditional on the record not having changed, so two
// parallel wrong guesses cannot both count as the first.
//
// Outcomes:
//   - match: the record is deleted (terminal) and returned
//   - mismatch below the ceiling: attempts incremented, *errOTPMismatch
//   - mismatch reaching the ceiling, or any attempt while already at the
//     ceiling (correct code included): errOTPAttemptsExceeded. The
//     locked record stays until its TTL expires so every further attempt
//     keeps seeing the lockout, not a missing challenge.
//   - missing or expired: errOTPNotFound
func (s *otpStore) Consume(ctx context.Context, accountID string, purpose OTPPurpose, code string) (*otpRecord, error) {
	const maxRetries = 4
	key := s.key(accountID, purpose)

	for i := 0; i < maxRetries; i++ {
		var matched *otpRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if expiredAt(time.Now(), time.Unix(record.ExpiresAt, 0)) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errOTPNotFound
			}

			// Ceiling already reached: fail fast without consuming
			// another attempt. The record is left in place so the
			// lockout holds until natural expiry.
			if record.Attempts >= record.MaxAttempts {
				return errOTPAttemptsExceeded
			}

			if !internal.CodeMatches(record.CodeHash, code) {
				record.Attempts++

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errOTPNotFound
				}

				updated, err := encodeOTPRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}

				if record.Attempts >= record.MaxAttempts {
					return errOTPAttemptsExceeded
				}
				return &errOTPMismatch{remaining: int(record.MaxAttempts - record.Attempts)}
			}

			// Correct code: deletion is what makes the challenge
			// single-use.
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			var mismatch *errOTPMismatch
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errOTPNotFound):
				return nil, errOTPNotFound
			case errors.Is(err, errOTPAttemptsExceeded):
				return nil, err
			case errors.As(err, &mismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errOTPNotFound
}

// Invalidate drops any pending challenge for the pair.
func (s *otpStore) Invalidate(ctx context.Context, accountID string, purpose OTPPurpose) error {
	if err := s.redis.Del(ctx, s.key(accountID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}
	return nil
}

func encodeOTPRecord(record *otpRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.MaxAttempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("otp record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*otpRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	record := &otpRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.MaxAttempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var accountIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountIDLen); err != nil {
		return nil, err
	}

	accountID := make([]byte, accountIDLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

// expiredAt is the single expiry predicate used everywhere: a record is
// expired strictly after its deadline, so the boundary instant itself is
// still valid.
func expiredAt(now, expiresAt time.Time) bool {
	return now.After(expiresAt)
}
