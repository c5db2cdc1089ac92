package observability

import (
	"sync/atomic"
	"time"
)

// SweepStats tracks the session sweeper in process, for the readiness
// report and the shutdown log line.
type SweepStats struct {
	runs     atomic.Uint64
	failures atomic.Uint64
	removed  atomic.Uint64

	// duration stats (nanoseconds)
	durationTotal atomic.Int64
	durationMax   atomic.Int64
	lastRun       atomic.Int64
}

func NewSweepStats() *SweepStats {
	return &SweepStats{}
}

func (s *SweepStats) Observe(removed int, took time.Duration, err error) {
	s.runs.Add(1)
	s.lastRun.Store(time.Now().UnixNano())

	if err != nil {
		s.failures.Add(1)
		return
	}
	s.removed.Add(uint64(removed))

	ns := took.Nanoseconds()
	s.durationTotal.Add(ns)

	// max update
	for {
		curr := s.durationMax.Load()
		if ns <= curr {
			return
		}
		if s.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type SweepSnapshot struct {
	Runs            uint64        `json:"runs"`
	Failures        uint64        `json:"failures"`
	Removed         uint64        `json:"removed"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
	LastRun         *time.Time    `json:"lastRun,omitempty"`
}

func (s *SweepStats) Snapshot() SweepSnapshot {
	runs := s.runs.Load()
	failures := s.failures.Load()

	var avg time.Duration
	if ok := runs - failures; ok > 0 {
		avg = time.Duration(s.durationTotal.Load() / int64(ok))
	}

	snap := SweepSnapshot{
		Runs:            runs,
		Failures:        failures,
		Removed:         s.removed.Load(),
		AverageDuration: avg,
		MaxDuration:     time.Duration(s.durationMax.Load()),
	}
	if last := s.lastRun.Load(); last > 0 {
		t := time.Unix(0, last).UTC()
		snap.LastRun = &t
	}
	return snap
}
