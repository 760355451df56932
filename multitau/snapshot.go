package multitau

import (
	"encoding/gob"
	"io"

	"github.com/pkg/errors"
)

// stateVersion is bumped whenever ChainState changes incompatibly.
const stateVersion = 1

// LevelState is the serializable state of one level.
type LevelState struct {
	Number      int       `gob:"number"`
	StartAt     int       `gob:"start_at"`
	Buffer      []float64 `gob:"buffer"` // most recent first
	Correlation []float64 `gob:"correlation"`
	Counter     []uint64  `gob:"counter"`
	Accumulator float64   `gob:"accumulator"`
	Accumulated uint64    `gob:"accumulated"`
}

// ChainState represents the serializable state of a Chain. Unlike the text record it
// carries the level list explicitly, so no lookahead is needed to restore it.
type ChainState struct {
	Version int          `gob:"version"`
	M       int          `gob:"m"`
	P       int          `gob:"p"`
	Levels  []LevelState `gob:"levels"`
}

// State returns a deep copy of the chain state.
func (c *Chain) State() ChainState {
	state := ChainState{
		Version: stateVersion,
		M:       c.m,
		P:       c.p,
		Levels:  make([]LevelState, len(c.levels)),
	}

	for i, l := range c.levels {
		ls := LevelState{
			Number:      l.number,
			StartAt:     l.startAt,
			Buffer:      make([]float64, len(l.buffer)),
			Correlation: make([]float64, len(l.correlation)),
			Counter:     make([]uint64, len(l.counter)),
			Accumulator: l.accumulator,
			Accumulated: l.accumulated,
		}
		copy(ls.Buffer, l.buffer)
		copy(ls.Correlation, l.correlation)
		copy(ls.Counter, l.counter)
		state.Levels[i] = ls
	}

	return state
}

// FromState rebuilds a chain from a state produced by State.
func FromState(state ChainState) (*Chain, error) {
	if state.Version != stateVersion {
		return nil, errors.Errorf("unsupported chain state version %d", state.Version)
	}
	if state.M < 2 || state.P < 1 {
		return nil, ErrInvalidParameters
	}
	if len(state.Levels) == 0 {
		return nil, errors.Wrap(ErrMalformedCheckpoint, "no levels")
	}

	c := &Chain{
		m:      state.M,
		p:      state.P,
		levels: make([]*level, len(state.Levels)),
	}

	for i, ls := range state.Levels {
		// Validate level layout
		if ls.Number != i {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d has number %d", i, ls.Number)
		}
		l := newLevel(c.m, c.p, i)
		if ls.StartAt != l.startAt {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d: start_at %d, want %d", i, ls.StartAt, l.startAt)
		}
		if len(ls.Buffer) > c.p {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d: buffer holds %d values", i, len(ls.Buffer))
		}
		if len(ls.Correlation) != c.p || len(ls.Counter) != c.p {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d: invalid correlation data length", i)
		}
		if ls.Accumulated >= uint64(c.m) {
			return nil, errors.Wrapf(ErrMalformedCheckpoint, "level %d: block count %d >= m", i, ls.Accumulated)
		}

		l.buffer = append(l.buffer, ls.Buffer...)
		copy(l.correlation, ls.Correlation)
		copy(l.counter, ls.Counter)
		l.accumulator = ls.Accumulator
		l.accumulated = ls.Accumulated
		c.levels[i] = l
	}

	return c, nil
}

// Save serializes the chain state to gob format
func (c *Chain) Save(w io.Writer) error {
	encoder := gob.NewEncoder(w)
	return encoder.Encode(c.State())
}

// Load deserializes a chain from gob format
func Load(r io.Reader) (*Chain, error) {
	decoder := gob.NewDecoder(r)

	var state ChainState
	if err := decoder.Decode(&state); err != nil {
		return nil, errors.Wrap(err, "could not decode chain state")
	}

	return FromState(state)
}
