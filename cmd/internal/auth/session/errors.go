package session

import "errors"

var (
	// ErrSuperseded is returned to the caller of a login, invitation or logout
	// whose response arrived after a newer operation started. Its outcome was
	// discarded.
	ErrSuperseded = errors.New("session: superseded by a newer request")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrSynchronizerBound is returned by Synchronizer.Start when the
	// controller already has a running Synchronizer.
	ErrSynchronizerBound = errors.New("session: controller already has a synchronizer")

	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("session: controller closed")
)
