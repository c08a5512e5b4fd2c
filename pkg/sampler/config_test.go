package sampler_test

import (
	"testing"

	"github.com/ja7ad/stacksample/pkg/sampler"
	"github.com/stretchr/testify/require"
)

func TestParseTimeModeRoundTrips(t *testing.T) {
	for _, m := range []sampler.TimeMode{sampler.TimeModeNone, sampler.TimeModeCPU, sampler.TimeModeWall} {
		parsed, err := sampler.ParseTimeMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}
}

func TestParseTimeModeIsCaseInsensitive(t *testing.T) {
	m, err := sampler.ParseTimeMode("CPU")
	require.NoError(t, err)
	require.Equal(t, sampler.TimeModeCPU, m)
}

func TestParseTimeModeRejectsUnknown(t *testing.T) {
	_, err := sampler.ParseTimeMode("nanoseconds")
	require.ErrorIs(t, err, sampler.ErrInvalidConfig)
}

func TestParseTimeModeEmptyIsNone(t *testing.T) {
	m, err := sampler.ParseTimeMode("")
	require.NoError(t, err)
	require.Equal(t, sampler.TimeModeNone, m)
}

func TestConfigValidateRejectsOutOfRangeDiscount(t *testing.T) {
	cfg := &sampler.Config{CCallDiscount: 0, ShadowTableLimit: 1}
	cfg.CCallDiscount = 1.5
	require.ErrorIs(t, cfg.Validate(), sampler.ErrInvalidConfig)

	cfg.CCallDiscount = 0
	require.ErrorIs(t, cfg.Validate(), sampler.ErrInvalidConfig)
}

func TestConfigValidateRejectsNonPositiveShadowLimit(t *testing.T) {
	cfg := &sampler.Config{CCallDiscount: 0.8, ShadowTableLimit: 0}
	require.ErrorIs(t, cfg.Validate(), sampler.ErrInvalidConfig)
}

func TestConfigValidateRejectsUndersizedBuffer(t *testing.T) {
	cfg := &sampler.Config{CCallDiscount: 0.8, ShadowTableLimit: 1, BufferSize: 1024}
	require.ErrorIs(t, cfg.Validate(), sampler.ErrInvalidConfig)
}

func TestNewPeriodicAppliesDefaultsForNilConfig(t *testing.T) {
	p, err := sampler.NewPeriodic(newFakeRuntime(), nil, 0, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), p.SamplingIntervalUS())
}

func TestNewPeriodicRejectsInvalidConfig(t *testing.T) {
	_, err := sampler.NewPeriodic(newFakeRuntime(), &sampler.Config{CCallDiscount: 2}, 0, nil)
	require.ErrorIs(t, err, sampler.ErrInvalidConfig)
}
