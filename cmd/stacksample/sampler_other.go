//go:build !linux

package main

import (
	"github.com/ja7ad/stacksample/pkg/runtimeiface"
	"github.com/ja7ad/stacksample/pkg/sampler"
)

func newAsyncSampler(rt runtimeiface.Runtime, cfg *sampler.Config) (lifecycle, error) {
	return nil, sampler.ErrAsyncUnsupported
}
