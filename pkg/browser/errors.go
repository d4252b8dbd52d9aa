package browser

import "errors"

var (
	// ErrSessionNotFound is returned for ids the registry does not hold.
	ErrSessionNotFound = errors.New("session not found")

	// ErrHardeningSkipped means the anti-fingerprint script could not be
	// registered. The session still works, only unhardened.
	ErrHardeningSkipped = errors.New("fingerprint hardening skipped")

	// ErrClosed is returned by host objects used after they were closed.
	ErrClosed = errors.New("browser object closed")
)
