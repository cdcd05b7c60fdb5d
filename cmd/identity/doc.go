// Package identity defines the dashboard's user model: roles, user records and
// the directory the identity API authenticates against.
//
// Records are exchanged with the identity API and persisted by the session
// store as whole JSON documents; partial updates are never written.
package identity
