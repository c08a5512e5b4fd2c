package trie

import "errors"

// ErrWriteFailed is returned by DumpTo in place of the underlying io.Writer
// error (which is not wrapped); it is never returned for DumpToString, which
// writes to an in-memory buffer.
var ErrWriteFailed = errors.New("trie: dump write failed")
