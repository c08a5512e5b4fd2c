package sampler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ja7ad/stacksample/pkg/shadow"
)

// TimeMode selects which clock a sampler charges its samples against.
type TimeMode int

const (
	// TimeModeNone selects no particular clock; samples are still timed,
	// with the monotonic wall clock, exactly as under TimeModeWall.
	TimeModeNone TimeMode = iota
	// TimeModeCPU charges samples against the sampler's own thread-CPU
	// clock. Only Periodic honors it; Async always times its samples with
	// the monotonic wall clock.
	TimeModeCPU
	// TimeModeWall charges samples against the monotonic wall clock.
	TimeModeWall
)

// String renders the mode the same way ParseTimeMode accepts it.
func (m TimeMode) String() string {
	switch m {
	case TimeModeCPU:
		return "cpu"
	case TimeModeWall:
		return "wall"
	default:
		return "none"
	}
}

// ParseTimeMode parses a case-insensitive time-mode name, failing with
// ErrInvalidConfig on anything else.
func ParseTimeMode(s string) (TimeMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return TimeModeNone, nil
	case "cpu":
		return TimeModeCPU, nil
	case "wall":
		return TimeModeWall, nil
	default:
		return 0, fmt.Errorf("%w: unknown time mode %q", ErrInvalidConfig, s)
	}
}

// Config is the full configuration surface of a sampler. SamplingIntervalUS
// is writable live (even while running). TimeMode, Debug, the boolean
// filter flags and RegexPatterns are writable only while the sampler is not
// running, enforced by the setter methods on Periodic and Async rather than
// by this struct itself. CCallDiscount, StdlibDir, SelfPathSegments,
// ShadowTableLimit and BufferSize have no setters and are fixed at
// construction.
type Config struct {
	SamplingIntervalUS uint64
	TimeMode           TimeMode
	Debug              bool
	IgnoreFrozen       bool
	IgnoreSelf         bool
	TreeMode           bool
	FocusMode          bool
	TraceCFunction     bool
	RegexPatterns      []*regexp.Regexp

	// CCallDiscount is the empirical hook-overhead discount applied to
	// native-call weight; must stay in (0, 1].
	CCallDiscount float64

	// StdlibDir and SelfPathSegments feed the walker's focus-mode and
	// ignore-self filters respectively.
	StdlibDir        string
	SelfPathSegments []string

	// ShadowTableLimit bounds the C-call bridge's process-wide
	// shadow-stack table.
	ShadowTableLimit int

	// BufferSize is the reusable text buffer's capacity; the spec
	// requires at least 16 KiB.
	BufferSize int
}

const minBufferSize = 16 * 1024

// defaultConfig mirrors the teacher's _defaultConfig pattern: callers that
// pass a nil Config get these values instead.
func defaultConfig() *Config {
	return &Config{
		SamplingIntervalUS: 10_000,
		TimeMode:           TimeModeWall,
		CCallDiscount:      shadow.DefaultCCallDiscount,
		ShadowTableLimit:   4096,
		BufferSize:         minBufferSize,
	}
}

// Validate reports ErrInvalidConfig for any out-of-range field.
func (c *Config) Validate() error {
	if c.CCallDiscount <= 0 || c.CCallDiscount > 1 {
		return fmt.Errorf("%w: ccall discount %v must be in (0, 1]", ErrInvalidConfig, c.CCallDiscount)
	}
	if c.ShadowTableLimit <= 0 {
		return fmt.Errorf("%w: shadow table limit must be positive", ErrInvalidConfig)
	}
	if c.BufferSize != 0 && c.BufferSize < minBufferSize {
		return fmt.Errorf("%w: buffer size must be at least %d bytes", ErrInvalidConfig, minBufferSize)
	}
	return nil
}

func normalizeConfig(cfg *Config) *Config {
	if cfg == nil {
		return defaultConfig()
	}
	cp := *cfg
	if cp.CCallDiscount == 0 {
		cp.CCallDiscount = shadow.DefaultCCallDiscount
	}
	if cp.ShadowTableLimit == 0 {
		cp.ShadowTableLimit = 4096
	}
	if cp.BufferSize == 0 {
		cp.BufferSize = minBufferSize
	}
	return &cp
}
