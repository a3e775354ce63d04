// Package internal holds cryptographic helpers shared by the engine and
// its stores: OTP code generation, reset-token encoding, and the storage
// hashes for both. Nothing here persists state.
package internal
