// Package password hashes and verifies account passwords for the identity API.
//
// Hashes use Argon2id in the PHC string form. Verification treats the stored
// hash as untrusted input and refuses parameters far above the configured cost.
package password
