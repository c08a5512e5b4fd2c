// Package walker turns a live interpreter frame chain into the
// semicolon-delimited canonical stack string the trie aggregates, applying
// the profiler's filter pipeline along the way.
package walker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

// Filters configures the frame filter pipeline, applied in the fixed order
// focus-mode, ignore-self, regex patterns, ignore-frozen.
type Filters struct {
	// TreeMode selects CurrentLine over FirstLine for every surviving
	// frame; richer flame graphs, fewer collapsed stacks.
	TreeMode bool

	FocusMode    bool
	IgnoreSelf   bool
	IgnoreFrozen bool

	// RegexPatterns, if non-empty, keeps a frame only when at least one
	// pattern matches its filename or qualname. An empty slice passes
	// every frame.
	RegexPatterns []*regexp.Regexp

	// StdlibDir is the cached standard-library directory prefix consulted
	// by focus mode, alongside the "site-packages/" substring check.
	StdlibDir string

	// SelfPathSegments are path fragments identifying this profiler's own
	// install location, consulted by ignore-self.
	SelfPathSegments []string
}

// Walker walks interpreter frame chains into canonical stack strings. It is
// not safe for concurrent use: each sampler worker owns one.
type Walker struct {
	scratch []scratchFrame
}

type scratchFrame struct {
	file     string
	qualname string
	lineno   int
}

// New returns a ready-to-use Walker.
func New() *Walker {
	return &Walker{}
}

// Walk starts at frame, follows parent links to the outermost frame, then
// writes the surviving frames (outermost-to-innermost, separated by ';')
// into buf. It returns the number of bytes written.
//
// Once the internal scratch slice has grown to the deepest stack Walk has
// ever seen, subsequent calls of equal or lesser depth make no
// allocations; only a stack deeper than any seen before grows it.
func (w *Walker) Walk(frame runtimeiface.Frame, buf []byte, filters Filters) (int, error) {
	w.scratch = w.scratch[:0]
	for f := frame; f != nil; f = f.Parent() {
		if skipFrozen(f, filters) {
			continue
		}
		lineno := f.FirstLine()
		if filters.TreeMode {
			lineno = f.CurrentLine()
		}
		w.scratch = append(w.scratch, scratchFrame{
			file:     f.File(),
			qualname: f.Qualname(),
			lineno:   lineno,
		})
	}

	n := 0
	wrote := false
	for i := len(w.scratch) - 1; i >= 0; i-- {
		sf := w.scratch[i]
		if !w.passes(sf, filters) {
			continue
		}
		if wrote {
			if n+1 > len(buf) {
				return n, ErrStackTooDeep
			}
			buf[n] = ';'
			n++
		}
		next, ok := appendFrameLabel(buf, n, sf.file, sf.qualname, sf.lineno)
		if !ok {
			return n, ErrStackTooDeep
		}
		n = next
		wrote = true
	}
	return n, nil
}

// skipFrozen short-circuits frame extraction entirely for frozen frames
// under ignore-frozen, since Frame.Frozen() is cheap to ask up front and
// FirstLine/CurrentLine on a frozen code object carry no useful signal.
func skipFrozen(f runtimeiface.Frame, filters Filters) bool {
	return filters.IgnoreFrozen && f.Frozen()
}

func (w *Walker) passes(sf scratchFrame, filters Filters) bool {
	if filters.FocusMode && isStdlibOrSitePackages(sf.file, filters.StdlibDir) {
		return false
	}
	if filters.IgnoreSelf && containsAny(sf.file, filters.SelfPathSegments) {
		return false
	}
	if len(filters.RegexPatterns) > 0 && !anyMatches(filters.RegexPatterns, sf.file, sf.qualname) {
		return false
	}
	if filters.IgnoreFrozen && strings.HasPrefix(sf.file, "<frozen") {
		return false
	}
	return true
}

func isStdlibOrSitePackages(file, stdlibDir string) bool {
	if strings.Contains(file, "site-packages/") {
		return true
	}
	return stdlibDir != "" && strings.HasPrefix(file, stdlibDir)
}

func containsAny(file string, segments []string) bool {
	for _, seg := range segments {
		if seg != "" && strings.Contains(file, seg) {
			return true
		}
	}
	return false
}

func anyMatches(patterns []*regexp.Regexp, file, qualname string) bool {
	for _, p := range patterns {
		if p.MatchString(file) || p.MatchString(qualname) {
			return true
		}
	}
	return false
}

// appendFrameLabel writes "<file>:<qualname>:<lineno>" at buf[n:], returning
// the new write offset. It reports false without a partial write taking
// effect beyond n if buf cannot hold the label.
func appendFrameLabel(buf []byte, n int, file, qualname string, lineno int) (int, bool) {
	need := len(file) + 1 + len(qualname) + 1
	if n+need > len(buf) {
		return n, false
	}
	n += copy(buf[n:], file)
	buf[n] = ':'
	n++
	n += copy(buf[n:], qualname)
	buf[n] = ':'
	n++

	grown := strconv.AppendInt(buf[:n], int64(lineno), 10)
	if len(grown) > len(buf) {
		return n, false
	}
	return len(grown), true
}
