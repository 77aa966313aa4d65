package lifecycle

import "errors"

// ErrForbidden rejects an action the caller's role does not permit. No engine
// call is made.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidTransition rejects a move the state machine does not allow, such
// as starting a running container or removing one that is still running.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrConflict rejects a transition while another one is already in flight for
// the same container. Concurrent requests fail fast rather than queue; the
// caller retries once the first transition settles.
var ErrConflict = errors.New("transition already in flight")

// ErrNotFound rejects a transition for a container the registry does not know.
var ErrNotFound = errors.New("container not found")
