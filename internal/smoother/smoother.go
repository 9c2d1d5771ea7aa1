// Package smoother maintains the rolling position and jitter buffers that
// turn a raw marker observation into a smoothed position and a scalar
// jitter reading.
package smoother

import (
	"math"
	"sort"

	"github.com/steadyscript/steadyscript/pkg/types"
)

// Smoother holds fixed-capacity FIFO position and jitter buffers.
// Capacity defaults to 30 per spec; callers may size it from
// config.StabilityWindowSize.
type Smoother struct {
	capacity   int
	positions  []types.Point
	jitters    []float64
	lastSmooth types.Point
	haveSmooth bool
}

// New returns a Smoother with the given buffer capacity.
func New(capacity int) *Smoother {
	if capacity <= 0 {
		capacity = 30
	}
	return &Smoother{capacity: capacity}
}

// Observe advances the buffers with a new detected position, returning the
// smoothed position and the scalar jitter for this tick. Call only when the
// marker was detected; on a missed detection the buffers must not advance
// (see Expire).
func (s *Smoother) Observe(p types.Point) (smoothed types.Point, jitter float64) {
	s.positions = append(s.positions, p)
	if len(s.positions) > s.capacity {
		s.positions = s.positions[1:]
	}

	smoothed = mean(s.positions)
	s.lastSmooth = smoothed
	s.haveSmooth = true

	dx := float64(p.X - smoothed.X)
	dy := float64(p.Y - smoothed.Y)
	jitter = math.Hypot(dx, dy)

	s.jitters = append(s.jitters, jitter)
	if len(s.jitters) > s.capacity {
		s.jitters = s.jitters[1:]
	}

	return smoothed, jitter
}

// Expire must be called on every tick where the marker was not detected. The
// smoothed position stays valid through the tick of the last Observe; from
// the first Expire on, LastSmoothed reports it absent.
func (s *Smoother) Expire() {
	s.haveSmooth = false
}

// LastSmoothed returns the most recent smoothed position, if still valid.
func (s *Smoother) LastSmoothed() (types.Point, bool) {
	return s.lastSmooth, s.haveSmooth
}

// JitterNow returns the most recent scalar jitter, or 0 if no samples yet.
func (s *Smoother) JitterNow() float64 {
	if len(s.jitters) == 0 {
		return 0
	}
	return s.jitters[len(s.jitters)-1]
}

// MeanJitter returns the arithmetic mean of the jitter buffer, or 0 if empty.
func (s *Smoother) MeanJitter() float64 {
	return meanFloat(s.jitters)
}

// P95Jitter returns the 95th percentile of the jitter buffer.
func (s *Smoother) P95Jitter() float64 {
	return Percentile(s.jitters, 0.95)
}

func mean(points []types.Point) types.Point {
	if len(points) == 0 {
		return types.Point{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += float64(p.X)
		sy += float64(p.Y)
	}
	n := float64(len(points))
	return types.Point{X: int(sx / n), Y: int(sy / n)}
}

func meanFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Percentile computes the p-th percentile (p in [0,1]) of vals using linear
// interpolation between adjacent ranks, per the numeric-parity rule: sort
// ascending, rank r = p*(n-1), interpolate between floor(r) and ceil(r).
// Returns 0 for an empty slice.
func Percentile(vals []float64, p float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)

	if n == 1 {
		return sorted[0]
	}

	r := p * float64(n-1)
	lo := int(math.Floor(r))
	hi := int(math.Ceil(r))
	if lo == hi {
		return sorted[lo]
	}
	frac := r - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
