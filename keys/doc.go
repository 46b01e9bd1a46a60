// Package keys provides the signing keys used for application package
// signatures.
//
// Stable:
//   - Seed handling, role-seed derivation and public key string formatting.
//   - Signer and Verify for the supported algorithms (ecdsa-p256, ed25519,
//     dilithium3).
//
// Experimental:
//   - Filesystem-backed key storage (KeyStore). It is a local-first
//     convenience for the CLI, not part of the package signature format.
package keys
