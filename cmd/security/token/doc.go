// Package token hashes opaque tokens (invitation tokens) for server-side storage.
//
// When AQUALENS_TOKEN_HMAC_KEY is set the digest is HMAC-SHA256 keyed by it;
// otherwise plain SHA-256 is used for local development. Output is always
// 64 hex characters.
package token
