// Package jwt mints and verifies the engine's two token classes: a
// short-lived access token and a longer-lived refresh token, both HS256
// with the claim set {sub, email, role, isMasterAdmin} and independent
// signing secrets.
//
// Refresh-token persistence and rotation live in the engine; this
// package is sign/verify only.
package jwt
