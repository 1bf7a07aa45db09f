package playback

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats accumulates requested versus actual pause lengths.
type Stats struct {
	mu        sync.Mutex
	requested []float64
	drift     []float64
	short     int
}

// TimingSummary condenses Stats. Drift is actual minus requested, in
// milliseconds; negative drift means the pause was cut short.
type TimingSummary struct {
	Pauses        int     `json:"pauses"`
	Short         int     `json:"short"`
	RequestedMs   float64 `json:"requested_ms"`
	MeanDriftMs   float64 `json:"mean_drift_ms"`
	StdDevDriftMs float64 `json:"stddev_drift_ms"`
	MinDriftMs    float64 `json:"min_drift_ms"`
	MaxDriftMs    float64 `json:"max_drift_ms"`
}

// NewStats returns empty Stats.
func NewStats() *Stats {
	return &Stats{}
}

// Record adds one pause.
func (s *Stats) Record(requested, actual time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, ms(requested))
	s.drift = append(s.drift, ms(actual-requested))
	if actual < requested {
		s.short++
	}
}

// Summary computes the drift mean and standard deviation. With fewer than two
// pauses the deviation is reported as zero.
func (s *Stats) Summary() TimingSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := TimingSummary{Pauses: len(s.drift), Short: s.short}
	if len(s.drift) == 0 {
		return sum
	}
	sum.RequestedMs = floats.Sum(s.requested)
	sum.MinDriftMs = floats.Min(s.drift)
	sum.MaxDriftMs = floats.Max(s.drift)
	if len(s.drift) == 1 {
		sum.MeanDriftMs = s.drift[0]
		return sum
	}
	mean, std := stat.MeanStdDev(s.drift, nil)
	sum.MeanDriftMs = mean
	if !math.IsNaN(std) {
		sum.StdDevDriftMs = std
	}
	return sum
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
