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
	resetKeyPrefix       = "lrst"
	resetIndexPrefix     = "lrsti"
	resetRecordVersionV1 = 1
)

var (
	errResetNotFound         = errors.New("reset record not found")
	errResetSecretMismatch   = errors.New("reset secret mismatch")
	errResetRedisUnavailable = errors.New("reset redis unavailable")
)

// resetRecord is a pending reset credential. Only the sha256 of the
// token's secret half is stored; the plaintext token is shown to the
// caller exactly once.
type resetRecord struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
}

// resetStore keeps reset credentials in Redis. A per-account index key
// enforces at most one outstanding credential: minting a new one deletes
// the previous record, and consumption removes both keys.
type resetStore struct {
	redis *redis.Client
}

func newResetStore(redisClient *redis.Client) *resetStore {
	return &resetStore{redis: redisClient}
}

func (s *resetStore) recordKey(resetID string) string {
	return resetKeyPrefix + ":" + resetID
}

func (s *resetStore) indexKey(accountID string) string {
	return resetIndexPrefix + ":" + accountID
}

// Save persists a fresh credential and retires any outstanding one for
// the account.
func (s *resetStore) Save(ctx context.Context, resetID string, record *resetRecord, ttl time.Duration) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}

	prev, err := s.redis.Get(ctx, s.indexKey(record.AccountID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	if prev != "" {
		pipe.Del(ctx, s.recordKey(prev))
	}
	pipe.Set(ctx, s.recordKey(resetID), encoded, ttl)
	pipe.Set(ctx, s.indexKey(record.AccountID), resetID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	return nil
}

// Consume validates and retires a credential in one atomic step, so a
// token can be used exactly once even under concurrent submissions.
func (s *resetStore) Consume(ctx context.Context, resetID string, providedHash [32]byte) (*resetRecord, error) {
	const maxRetries = 4
	key := s.recordKey(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *resetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetRecord(data)
			if err != nil {
				return err
			}

			if expiredAt(time.Now(), time.Unix(record.ExpiresAt, 0)) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.Del(ctx, s.indexKey(record.AccountID))
					return nil
				})
				if err != nil {
					return err
				}
				return errResetNotFound
			}

			if !internal.SecretHashMatches(record.SecretHash, providedHash) {
				return errResetSecretMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, s.indexKey(record.AccountID))
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
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errResetNotFound):
				return nil, errResetNotFound
			case errors.Is(err, errResetSecretMismatch):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errResetNotFound
}

// PurgeAccount drops every outstanding credential for the account.
func (s *resetStore) PurgeAccount(ctx context.Context, accountID string) error {
	prev, err := s.redis.Get(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, s.recordKey(prev))
	pipe.Del(ctx, s.indexKey(accountID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", errResetRedisUnavailable, err)
	}

	return nil
}

func encodeResetRecord(record *resetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("reset record account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*resetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &resetRecord{}

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

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
