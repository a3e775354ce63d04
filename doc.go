// Package latch is the credential and session-lifecycle core of a
// user-account backend.
//
// It covers password and OAuth authentication, one-time-passcode (OTP)
// verification for email confirmation and password reset, JWT
// access/refresh-token issuance with rotation-on-use, and at-rest
// encryption of long-lived OAuth provider tokens.
//
// The engine is stateless compute over two pluggable boundaries: a
// [UserProvider] (the caller's account database) and a [Notifier]
// (outbound code delivery). OTP challenges and reset credentials live in
// Redis. HTTP framing, payload validation, and provider profile parsing
// are the caller's concern; the engine exposes verification and issuance
// results plus a small sentinel-error taxonomy for mapping to transport
// status codes (see [Class]).
package latch
