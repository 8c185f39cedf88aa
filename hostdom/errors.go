package hostdom

import "errors"

// ErrNoElement is returned when a query matches nothing. This is an expected
// outcome on a host-owned tree, not a fault: callers fall back to retry.
var ErrNoElement = errors.New("hostdom: no matching element")

// ErrGone is returned by operations on an element whose node the host has
// already destroyed.
var ErrGone = errors.New("hostdom: element no longer attached")
