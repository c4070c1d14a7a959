package downloader

import (
	"sync"
	"time"
)

type speedSample struct {
	at    time.Time
	bytes int64
}

// SpeedCalculator estimates throughput over a sliding window of recent samples.
type SpeedCalculator struct {
	mu      sync.Mutex
	window  time.Duration
	samples []speedSample
	now     func() time.Time
}

// NewSpeedCalculator returns a calculator averaging over the last windowSeconds.
func NewSpeedCalculator(windowSeconds int) *SpeedCalculator {
	return &SpeedCalculator{
		window: time.Duration(windowSeconds) * time.Second,
		now:    time.Now,
	}
}

// AddBytes records n bytes received now.
func (s *SpeedCalculator) AddBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.samples = append(s.samples, speedSample{at: now, bytes: n})
	s.prune(now)
}

// GetSpeed returns bytes per second over the window, or 0 without enough data.
func (s *SpeedCalculator) GetSpeed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)

	if len(s.samples) == 0 {
		return 0
	}

	var total int64
	for _, sm := range s.samples {
		total += sm.bytes
	}

	elapsed := now.Sub(s.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}

	return int64(float64(total) / elapsed.Seconds())
}

func (s *SpeedCalculator) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	s.samples = s.samples[i:]
}
