package collaboration

import "errors"

var (
	// ErrHubNotRunning is returned when events are offered to a hub that has
	// not been started or was already shut down.
	ErrHubNotRunning = errors.New("hub is not running")

	// ErrHubAlreadyRunning is returned by Start on a running hub.
	ErrHubAlreadyRunning = errors.New("hub is already running")
)
