// Package multitau implements a multiple-tau correlator: an online estimator of the
// autocorrelation function of a scalar signal at exponentially spaced lags, using
// O(log T) memory and O(p) work per incoming sample.
package multitau

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidParameters is returned for a coarsening factor below 2 or a non-positive capacity.
	ErrInvalidParameters = errors.New("multitau: need m >= 2 and p >= 1")

	// ErrMalformedCheckpoint is returned when a checkpoint record cannot be parsed.
	ErrMalformedCheckpoint = errors.New("multitau: malformed checkpoint")
)

// Point is one entry of a correlator report.
type Point struct {
	Lag     float64 // physical lag, i·m^level·dt
	Value   float64 // ACF estimate; NaN while Samples == 0
	Samples uint64  // number of products averaged into Value
}

// level is one tier of the hierarchy, operating at resolution m^number samples.
type level struct {
	number  int
	startAt int

	buffer      []float64 // most recent first, len <= p
	correlation []float64 // running sums of buffer[0]*buffer[i]
	counter     []uint64  // terms contributed to correlation[i]

	accumulator float64 // block sum feeding the next tier
	accumulated uint64
}

func newLevel(m, p, number int) *level {
	l := &level{
		number:      number,
		buffer:      make([]float64, 0, p),
		correlation: make([]float64, p),
		counter:     make([]uint64, p),
	}
	if number > 0 {
		// Lags below p/m are already covered by the parent at finer resolution
		l.startAt = p / m
	}
	return l
}

// add inserts v and updates the correlation sums. It returns the block average and
// true once m values have been accumulated since the last forward.
func (l *level) add(v float64, m, p int) (float64, bool) {
	if len(l.buffer) < p {
		l.buffer = append(l.buffer, 0)
	}
	copy(l.buffer[1:], l.buffer[:len(l.buffer)-1])
	l.buffer[0] = v

	n := len(l.buffer)
	if l.startAt < n {
		floats.AddScaled(l.correlation[l.startAt:n], v, l.buffer[l.startAt:n])
		for i := l.startAt; i < n; i++ {
			l.counter[i]++
		}
	}

	l.accumulator += v
	l.accumulated++
	if l.accumulated < uint64(m) {
		return 0, false
	}

	avg := l.accumulator / float64(l.accumulated)
	l.accumulator = 0
	l.accumulated = 0
	return avg, true
}

// Chain is a multi-tau correlator: level 0 receives the raw samples, each deeper
// level receives block averages of m samples of its parent.
//
// A Chain is not safe for concurrent use. The caller must serialize Push calls.
type Chain struct {
	m int // coarsening factor
	p int // lag slots per level

	// levels[k] is the tier at depth k; a tier k+1 exists iff k+1 < len(levels)
	levels []*level
}

// New creates an empty chain with coarsening factor m and per-level capacity p.
// With m == 1 every level would forward each sample to a new level forever.
//
// Lags are unique across levels only when p is a multiple of m. Otherwise the first
// slot of a deeper level repeats a lag of its parent (m=3, p=4 reports 3·dt twice);
// such a chain is still valid and New only logs a warning.
func New(m, p int) (*Chain, error) {
	if m < 2 || p < 1 {
		return nil, ErrInvalidParameters
	}
	if p%m != 0 {
		log.WithField("m", m).WithField("p", p).Warn("p is not a multiple of m, lags of adjacent levels will overlap")
	}

	return &Chain{
		m:      m,
		p:      p,
		levels: []*level{newLevel(m, p, 0)},
	}, nil
}

// M returns the coarsening factor.
func (c *Chain) M() int { return c.m }

// P returns the number of lag slots per level.
func (c *Chain) P() int { return c.p }

// Depth returns the number of levels currently present.
func (c *Chain) Depth() int { return len(c.levels) }

// Samples returns the number of values pushed into the chain so far.
func (c *Chain) Samples() uint64 {
	// level 0 has start_at 0, so every push contributes to lag 0
	return c.levels[0].counter[0]
}

// Push adds one sample. Averages of every m consecutive samples of a level are
// forwarded to the next level, which is created on its first input.
func (c *Chain) Push(v float64) {
	for depth := 0; ; depth++ {
		avg, full := c.levels[depth].add(v, c.m, c.p)
		if !full {
			return
		}
		if depth+1 == len(c.levels) {
			c.levels = append(c.levels, newLevel(c.m, c.p, depth+1))
		}
		v = avg
	}
}

// Len returns the number of points a report currently contains.
func (c *Chain) Len() int {
	n := 0
	for _, l := range c.levels {
		n += c.p - l.startAt
	}
	return n
}

// AppendTimes appends the physical lag of every reported slot to dst, level by level.
func (c *Chain) AppendTimes(dst []float64, dt float64) []float64 {
	for _, l := range c.levels {
		scale := math.Pow(float64(c.m), float64(l.number)) * dt
		for i := l.startAt; i < c.p; i++ {
			dst = append(dst, float64(i)*scale)
		}
	}
	return dst
}

// Times returns the lag axis for sampling interval dt.
func (c *Chain) Times(dt float64) []float64 {
	return c.AppendTimes(make([]float64, 0, c.Len()), dt)
}

// AppendACF appends the autocorrelation estimate of every reported slot to dst, in the
// same order as AppendTimes. Slots that have not received any product yet yield NaN.
func (c *Chain) AppendACF(dst []float64) []float64 {
	for _, l := range c.levels {
		for i := l.startAt; i < c.p; i++ {
			dst = append(dst, l.correlation[i]/float64(l.counter[i]))
		}
	}
	return dst
}

// ACF returns the autocorrelation estimates.
func (c *Chain) ACF() []float64 {
	return c.AppendACF(make([]float64, 0, c.Len()))
}

// AppendCounts appends the number of products behind every reported slot to dst.
func (c *Chain) AppendCounts(dst []uint64) []uint64 {
	for _, l := range c.levels {
		dst = append(dst, l.counter[l.startAt:c.p]...)
	}
	return dst
}

// Report zips the lag axis and the ACF estimates.
func (c *Chain) Report(dt float64) []Point {
	times := c.Times(dt)
	acf := c.ACF()
	counts := c.AppendCounts(make([]uint64, 0, len(times)))

	points := make([]Point, len(times))
	for i := range points {
		points[i] = Point{Lag: times[i], Value: acf[i], Samples: counts[i]}
	}
	return points
}
