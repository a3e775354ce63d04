package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize = 16
	ivSize   = 12
	tagSize  = 16
	keySize  = 32

	// kdfIterations is the PBKDF2-SHA256 work factor. A fresh salt per
	// call means two encryptions of the same plaintext never share a
	// derived key, even though the master secret is static.
	kdfIterations = 100_000

	// MinKeyLength is the minimum master-secret length accepted by New.
	MinKeyLength = 32
)

// ErrDecryptFailed is returned for any undecryptable input: wrong key,
// tampered or truncated ciphertext, bad encoding. The cause is
// deliberately not distinguished.
var ErrDecryptFailed = errors.New("secretbox: decrypt failed")

// Box performs authenticated at-rest encryption of short secrets (OAuth
// provider tokens). The wire layout is
//
//	base64( salt ‖ iv ‖ authTag ‖ ciphertext )
//
// with a 16-byte salt, 12-byte GCM nonce, and 16-byte tag. The AES-256
// key is derived per call from the master secret via PBKDF2-SHA256.
//
// A Box is immutable and safe for concurrent use.
type Box struct {
	key []byte
}

// New validates the master secret and returns a ready Box. A missing or
// short key is a configuration error surfaced here, at startup, never a
// silent no-op later.
func New(key string) (*Box, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("secretbox: key must be at least %d characters, got %d", MinKeyLength, len(key))
	}
	return &Box{key: []byte(key)}, nil
}

// Encrypt seals a non-empty plaintext into one opaque base64 string.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("secretbox: empty plaintext")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	gcm, err := b.aead(salt)
	if err != nil {
		return "", err
	}

	// Seal appends the tag to the ciphertext; the stored layout keeps
	// the tag before the ciphertext instead.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, saltSize+ivSize+tagSize+len(ct))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a string produced by Encrypt. It fails closed: any
// tampering, truncation, or key mismatch yields [ErrDecryptFailed] and
// no plaintext.
func (b *Box) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) <= saltSize+ivSize+tagSize {
		return "", ErrDecryptFailed
	}

	salt := raw[:saltSize]
	iv := raw[saltSize : saltSize+ivSize]
	tag := raw[saltSize+ivSize : saltSize+ivSize+tagSize]
	ct := raw[saltSize+ivSize+tagSize:]

	gcm, err := b.aead(salt)
	if err != nil {
		return "", ErrDecryptFailed
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

func (b *Box) aead(salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key(b.key, salt, kdfIterations, keySize, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
