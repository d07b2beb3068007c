package citation

import "errors"

// Error classes shared by every fetcher implementation. Concrete errors
// report membership through errors.Is.
var (
	// ErrTransient covers failures worth retrying: network errors, timeouts, throttling and 5xx.
	ErrTransient = errors.New("transient fetch failure")
	// ErrNotFound covers works that do not exist or are permanently unavailable.
	ErrNotFound = errors.New("work not found")
	// ErrFatal covers failures that must abort the whole run, such as rejected credentials.
	ErrFatal = errors.New("fatal fetch failure")
)
