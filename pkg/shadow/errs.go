package shadow

import "errors"

// ErrTooManyThreads is returned by Table.Acquire when the process-wide
// shadow-stack table has reached its configured capacity. The affected
// thread's C-call tracing is lost; sampling itself continues unaffected.
var ErrTooManyThreads = errors.New("shadow: too many threads for shadow-stack table")
