// Package session is the dashboard's authentication state machine.
//
// A Controller owns one tab's session: it derives its initial state from the
// session store, runs login, invitation and logout flows against the identity
// API, persists successful sessions and publishes every transition to
// subscribers. A Synchronizer forwards other tabs' storage changes into the
// Controller so all tabs of an origin converge.
//
// Construct one Controller per tab at startup and inject it where needed;
// there is no package-level session.
package session
