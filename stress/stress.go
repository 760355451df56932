// Package stress drives six multi-tau correlators from a stress-tensor sample stream:
// the autocorrelations of the three shear components and of the three normal stress
// differences, which together give the shear relaxation modulus G(t).
package stress

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-multitau/multitau"
)

var (
	// ErrTensorShape is returned when a stress sample is not a 3x3 matrix.
	ErrTensorShape = errors.New("stress: tensor must be 3x3")

	// ErrInvalidOption is returned when an ensemble setting is out of range.
	ErrInvalidOption = errors.New("stress: invalid option")

	// ErrParameterMismatch is returned when restored correlators do not fit the ensemble.
	ErrParameterMismatch = errors.New("stress: checkpoint does not match ensemble parameters")
)

// Quantity identifies one of the six autocorrelated signals.
type Quantity int

const (
	ShearXY Quantity = iota
	ShearYZ
	ShearXZ
	NormalXY // σxx - σyy
	NormalYZ // σyy - σzz
	NormalXZ // σxx - σzz
)

// NumQuantities is the number of tracked signals.
const NumQuantities = int(NormalXZ) + 1

var quantityNames = [NumQuantities]string{"sigma_xy", "sigma_yz", "sigma_xz", "N_xy", "N_yz", "N_xz"}

// String returns the name used for checkpoint files and report columns.
func (q Quantity) String() string {
	if q < 0 || int(q) >= NumQuantities {
		return fmt.Sprintf("Quantity(%d)", int(q))
	}
	return quantityNames[q]
}

// Quantities lists all tracked signals in report order.
func Quantities() []Quantity {
	qs := make([]Quantity, NumQuantities)
	for i := range qs {
		qs[i] = Quantity(i)
	}
	return qs
}

// Decompose derives the six scalar signals from a 3x3 stress tensor.
func Decompose(t mat.Matrix) ([NumQuantities]float64, error) {
	var out [NumQuantities]float64
	if r, c := t.Dims(); r != 3 || c != 3 {
		return out, errors.Wrapf(ErrTensorShape, "got %dx%d", r, c)
	}

	out[ShearXY] = t.At(0, 1)
	out[ShearYZ] = t.At(1, 2)
	out[ShearXZ] = t.At(0, 2)
	out[NormalXY] = t.At(0, 0) - t.At(1, 1)
	out[NormalYZ] = t.At(1, 1) - t.At(2, 2)
	out[NormalXZ] = t.At(0, 0) - t.At(2, 2)
	return out, nil
}

// FromComponents builds a tensor from the row-major components xx, xy, xz, yx, yy, yz, zx, zy, zz.
func FromComponents(c [9]float64) *mat.Dense {
	data := make([]float64, 9)
	copy(data, c[:])
	return mat.NewDense(3, 3, data)
}

// Ensemble owns one correlator chain per Quantity. It is driven by exactly one Update
// per simulation step and is not safe for concurrent use.
type Ensemble struct {
	dt          float64 // sampling interval
	m           int     // coarsening factor
	p           int     // lag slots per level
	volume      float64
	temperature float64

	chains [NumQuantities]*multitau.Chain
}

// Option defines a functional option for configuring an Ensemble
type Option func(*Ensemble)

// WithSamplingInterval sets the time between two consecutive samples
func WithSamplingInterval(dt float64) Option {
	return func(e *Ensemble) {
		e.dt = dt
	}
}

// WithCoarsening sets the number of samples averaged into one sample of the next level
func WithCoarsening(m int) Option {
	return func(e *Ensemble) {
		e.m = m
	}
}

// WithCapacity sets the number of lag slots per level
func WithCapacity(p int) Option {
	return func(e *Ensemble) {
		e.p = p
	}
}

// WithVolume sets the system volume used for the modulus
func WithVolume(v float64) Option {
	return func(e *Ensemble) {
		e.volume = v
	}
}

// WithTemperature sets the temperature (in energy units) used for the modulus
func WithTemperature(kT float64) Option {
	return func(e *Ensemble) {
		e.temperature = kT
	}
}

// New creates an ensemble with empty correlators.
func New(options ...Option) (*Ensemble, error) {
	e := &Ensemble{
		dt:          1.0,
		m:           2,
		p:           16,
		volume:      1.0,
		temperature: 1.0,
	}

	// Apply options
	for _, opt := range options {
		opt(e)
	}

	if !(e.dt > 0) {
		return nil, errors.Wrapf(ErrInvalidOption, "sampling interval %v", e.dt)
	}
	if !(e.volume > 0) || !(e.temperature > 0) {
		return nil, errors.Wrapf(ErrInvalidOption, "volume %v, temperature %v", e.volume, e.temperature)
	}

	for q := range e.chains {
		c, err := multitau.New(e.m, e.p)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create %s correlator", Quantity(q))
		}
		e.chains[q] = c
	}

	return e, nil
}

// SamplingInterval returns the time between two samples.
func (e *Ensemble) SamplingInterval() float64 { return e.dt }

// M returns the coarsening factor.
func (e *Ensemble) M() int { return e.m }

// P returns the number of lag slots per level.
func (e *Ensemble) P() int { return e.p }

// Volume returns the system volume.
func (e *Ensemble) Volume() float64 { return e.volume }

// Temperature returns the temperature.
func (e *Ensemble) Temperature() float64 { return e.temperature }

// Steps returns the number of samples consumed so far.
func (e *Ensemble) Steps() uint64 {
	return e.chains[ShearXY].Samples()
}

// Chain returns the correlator of q.
func (e *Ensemble) Chain(q Quantity) *multitau.Chain {
	return e.chains[q]
}

// Update feeds one stress sample into all six correlators.
func (e *Ensemble) Update(t mat.Matrix) error {
	values, err := Decompose(t)
	if err != nil {
		return err
	}
	for q, v := range values {
		e.chains[q].Push(v)
	}
	return nil
}

// Report collects the current estimates of all six correlators.
func (e *Ensemble) Report() *Report {
	r := &Report{
		Volume:      e.volume,
		Temperature: e.temperature,
		// chains are fed in lockstep, so they share the lag axis
		Times: e.chains[ShearXY].Times(e.dt),
	}
	for q, c := range e.chains {
		r.ACF[q] = c.ACF()
		r.Samples[q] = c.AppendCounts(make([]uint64, 0, len(r.Times)))
	}
	return r
}
