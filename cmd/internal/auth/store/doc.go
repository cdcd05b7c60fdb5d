// Package store persists the session pair (access token + user record) in a
// storage origin shared by every tab of the dashboard.
//
// A Store is one tab's view of the origin. Writes are atomic pair writes;
// read and write failures are logged and swallowed so the session controller
// can keep running in memory. Other tabs' writes surface as Change
// notifications; a tab never observes its own writes.
package store
