// Package password implements password hashing and verification with
// Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification recomputes with the parameters embedded in the stored
// string, so cost changes never invalidate old hashes. The package owns
// hashing only; password policy lives in the engine.
package password
