package walker

import "errors"

// ErrStackTooDeep is returned by Walk when the caller-supplied buffer is too
// small to hold the canonicalized stack. The buffer is left in an
// unspecified state; callers must not inspect the partial contents.
var ErrStackTooDeep = errors.New("walker: stack too deep for buffer")
