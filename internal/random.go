package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
)

const (
	resetIDSize       = 16
	resetSecretSize   = 32
	resetTokenRawSize = resetIDSize + resetSecretSize

	codeMin  = 100000
	codeSpan = 900000
)

// NewCode draws a 6-digit decimal one-time code in [100000, 999999] from
// crypto/rand. Draws that would introduce modulo bias are rejected and
// redrawn.
func NewCode() (string, error) {
	// Largest multiple of codeSpan that fits in a uint32.
	const limit = (1 << 32) / codeSpan * codeSpan

	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", err
		}
		v := binary.BigEndian.Uint32(buf[:])
		if uint64(v) >= uint64(limit) {
			continue
		}
		n := codeMin + v%codeSpan

		var out [6]byte
		for i := 5; i >= 0; i-- {
			out[i] = byte('0' + n%10)
			n /= 10
		}
		return string(out[:]), nil
	}
}

// HashCode is the storage hash for OTP codes.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// CodeMatches compares a supplied code against a stored hash in constant
// time.
func CodeMatches(stored [32]byte, code string) bool {
	h := HashCode(code)
	return subtle.ConstantTimeCompare(stored[:], h[:]) == 1
}

// ResetID identifies a reset credential. It is random, not secret: the
// secret half of the token never touches storage in plaintext.
type ResetID [resetIDSize]byte

// NewResetID returns a random reset-credential identifier.
func NewResetID() (ResetID, error) {
	var rid ResetID
	_, err := rand.Read(rid[:])
	return rid, err
}

func (r ResetID) String() string {
	return base64.RawURLEncoding.EncodeToString(r[:])
}

// ParseResetID decodes the identifier half of a reset token.
func ParseResetID(s string) (ResetID, error) {
	var rid ResetID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return rid, err
	}
	if len(raw) != len(rid) {
		return rid, errors.New("invalid reset id size")
	}

	copy(rid[:], raw)
	return rid, nil
}

// NewResetSecret returns the 256-bit secret half of a reset token.
func NewResetSecret() ([resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashResetSecret is the storage hash for reset secrets.
func HashResetSecret(secret [resetSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeResetToken packs id and secret into the opaque single-use token
// handed to the caller. base64url, no padding.
func EncodeResetToken(id ResetID, secret [resetSecretSize]byte) string {
	var raw [resetTokenRawSize]byte
	copy(raw[:resetIDSize], id[:])
	copy(raw[resetIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeResetToken splits a presented token back into id and secret.
func DecodeResetToken(token string) (ResetID, [resetSecretSize]byte, error) {
	var (
		rid    ResetID
		secret [resetSecretSize]byte
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return rid, secret, err
	}
	if len(raw) != resetTokenRawSize {
		return rid, secret, errors.New("invalid reset token size")
	}

	copy(rid[:], raw[:resetIDSize])
	copy(secret[:], raw[resetIDSize:])
	return rid, secret, nil
}

// SecretHashMatches compares a presented secret hash against the stored
// one in constant time.
func SecretHashMatches(stored, provided [32]byte) bool {
	return subtle.ConstantTimeCompare(stored[:], provided[:]) == 1
}
