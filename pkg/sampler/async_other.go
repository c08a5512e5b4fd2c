//go:build !linux

package sampler

import (
	"errors"
	"log/slog"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
)

// ErrAsyncUnsupported is returned by NewAsync on platforms without an
// ITIMER_PROF-equivalent timer-signal mechanism. The periodic sampler has
// no such restriction.
var ErrAsyncUnsupported = errors.New("sampler: async sampler requires linux")

// MainFrameProvider mirrors the linux build's type so callers can share
// code across platforms even though Async itself is unavailable here.
type MainFrameProvider func() (runtimeiface.Frame, error)

// Async is an unusable stand-in on non-Linux platforms; every method
// reports ErrAsyncUnsupported or its lifecycle zero value.
type Async struct{}

// NewAsync always fails on this platform.
func NewAsync(rt runtimeiface.Runtime, cfg *Config, selfHost runtimeiface.ThreadID, mainFrame MainFrameProvider, logger *slog.Logger) (*Async, error) {
	return nil, ErrAsyncUnsupported
}

func (a *Async) Start() error        { return ErrAsyncUnsupported }
func (a *Async) Stop() error         { return ErrAsyncUnsupported }
func (a *Async) AsyncRoutine()       {}
func (a *Async) LastError() error    { return ErrAsyncUnsupported }
func (a *Async) Enabled() bool       { return false }
func (a *Async) SamplingThread() runtimeiface.ThreadID { return 0 }
