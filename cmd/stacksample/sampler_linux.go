//go:build linux

package main

import (
	"log/slog"

	"github.com/ja7ad/stacksample/pkg/runtimeiface"
	"github.com/ja7ad/stacksample/pkg/sampler"
)

func newAsyncSampler(rt runtimeiface.Runtime, cfg *sampler.Config) (lifecycle, error) {
	noMainFrame := func() (runtimeiface.Frame, error) { return nil, nil }
	return sampler.NewAsync(rt, cfg, 0, noMainFrame, slog.Default())
}
