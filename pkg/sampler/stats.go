package sampler

import "go.uber.org/atomic"

// stats holds the read-only counters both sampler kinds expose:
// acc_sampling_time, sampling_times, life_time.
type stats struct {
	accSamplingTimeNS atomic.Uint64
	samplingTimes     atomic.Uint64
	lifeTimeNS        atomic.Uint64
}

func (s *stats) addSample(elapsedNS uint64) {
	s.accSamplingTimeNS.Add(elapsedNS)
	s.samplingTimes.Add(1)
}

func (s *stats) reset() {
	s.accSamplingTimeNS.Store(0)
	s.samplingTimes.Store(0)
	s.lifeTimeNS.Store(0)
}
