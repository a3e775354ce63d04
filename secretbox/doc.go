// Package secretbox encrypts OAuth provider tokens at rest so a database
// compromise alone does not disclose usable provider credentials.
//
// It is a stateless transform applied at the user-store boundary:
// provider implementations encrypt on write and decrypt on read, and
// engine code only ever sees plaintext. Rotating the master secret
// invalidates all previously written ciphertexts; there is no
// re-encryption migration.
package secretbox
