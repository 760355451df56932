package stress

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/n0madic/go-multitau/multitau"
)

// CheckpointFile returns the path of the text checkpoint record of q inside dir.
func CheckpointFile(dir string, q Quantity) string {
	return filepath.Join(dir, q.String()+".dat")
}

// SaveDir writes one text checkpoint record per correlator into dir. Each file is
// replaced atomically, so an interrupted save leaves the previous record intact.
func (e *Ensemble) SaveDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create checkpoint directory %s", dir)
	}

	for q, c := range e.chains {
		path := CheckpointFile(dir, Quantity(q))
		if err := writeFileAtomic(path, c); err != nil {
			return errors.Wrapf(err, "could not save %s", Quantity(q))
		}
	}

	log.WithFields(logrus.Fields{
		"dir":   dir,
		"steps": e.Steps(),
	}).Debug("Saved correlator checkpoint")
	return nil
}

func writeFileAtomic(path string, src io.WriterTo) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := src.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// RestoreDir replaces the correlators with the records stored in dir by SaveDir.
// All six records must be present and consistent with the ensemble parameters;
// on any error the ensemble is left unchanged.
func (e *Ensemble) RestoreDir(dir string) error {
	var chains [NumQuantities]*multitau.Chain

	for q := range chains {
		path := CheckpointFile(dir, Quantity(q))
		c, err := readChainFile(path)
		if err != nil {
			return err
		}
		if c.M() != e.m || c.P() != e.p {
			return errors.Wrapf(ErrParameterMismatch, "%s has m=%d p=%d, want m=%d p=%d", path, c.M(), c.P(), e.m, e.p)
		}
		chains[q] = c
	}
	if err := checkLockstep(chains); err != nil {
		return errors.Wrapf(err, "inconsistent records in %s", dir)
	}

	e.chains = chains
	log.WithFields(logrus.Fields{
		"dir":   dir,
		"steps": e.Steps(),
		"depth": e.chains[ShearXY].Depth(),
	}).Info("Restored correlators from checkpoint")
	return nil
}

// checkLockstep verifies that all chains were fed the same number of samples and hence
// share one lag axis.
func checkLockstep(chains [NumQuantities]*multitau.Chain) error {
	first := chains[0]
	for q, c := range chains[1:] {
		q := Quantity(q + 1)
		if c.Samples() != first.Samples() {
			return errors.Wrapf(ErrParameterMismatch, "%s holds %d samples, %s holds %d",
				q, c.Samples(), Quantity(0), first.Samples())
		}
		if c.Depth() != first.Depth() {
			return errors.Wrapf(ErrParameterMismatch, "%s has %d levels, %s has %d",
				q, c.Depth(), Quantity(0), first.Depth())
		}
	}
	return nil
}

func readChainFile(path string) (*multitau.Chain, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "could not open checkpoint")
	}
	defer f.Close()

	c, err := multitau.ReadFrom(f)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	return c, nil
}

// snapshotVersion is bumped whenever EnsembleState changes incompatibly.
const snapshotVersion = 1

// EnsembleState represents the serializable state of an Ensemble
type EnsembleState struct {
	Version          int                   `gob:"version"`
	SamplingInterval float64               `gob:"dt"`
	M                int                   `gob:"m"`
	P                int                   `gob:"p"`
	Volume           float64               `gob:"volume"`
	Temperature      float64               `gob:"temperature"`
	Chains           []multitau.ChainState `gob:"chains"`
}

// SaveSnapshot writes the whole ensemble, settings included, as a snappy
// compressed gob stream.
func (e *Ensemble) SaveSnapshot(w io.Writer) error {
	state := EnsembleState{
		Version:          snapshotVersion,
		SamplingInterval: e.dt,
		M:                e.m,
		P:                e.p,
		Volume:           e.volume,
		Temperature:      e.temperature,
		Chains:           make([]multitau.ChainState, NumQuantities),
	}
	for q, c := range e.chains {
		state.Chains[q] = c.State()
	}

	sw := snappy.NewBufferedWriter(w)
	if err := gob.NewEncoder(sw).Encode(state); err != nil {
		return errors.Wrap(err, "could not encode ensemble state")
	}
	return sw.Close()
}

// LoadSnapshot restores an ensemble written by SaveSnapshot.
func LoadSnapshot(r io.Reader) (*Ensemble, error) {
	var state EnsembleState
	if err := gob.NewDecoder(snappy.NewReader(r)).Decode(&state); err != nil {
		return nil, errors.Wrap(err, "could not decode ensemble state")
	}

	if state.Version != snapshotVersion {
		return nil, errors.Errorf("unsupported snapshot version %d", state.Version)
	}
	if len(state.Chains) != NumQuantities {
		return nil, errors.Wrapf(multitau.ErrMalformedCheckpoint, "snapshot holds %d correlators", len(state.Chains))
	}

	e, err := New(
		WithSamplingInterval(state.SamplingInterval),
		WithCoarsening(state.M),
		WithCapacity(state.P),
		WithVolume(state.Volume),
		WithTemperature(state.Temperature),
	)
	if err != nil {
		return nil, err
	}

	var chains [NumQuantities]*multitau.Chain
	for q, cs := range state.Chains {
		if cs.M != state.M || cs.P != state.P {
			return nil, errors.Wrapf(ErrParameterMismatch, "%s has m=%d p=%d", Quantity(q), cs.M, cs.P)
		}
		c, err := multitau.FromState(cs)
		if err != nil {
			return nil, errors.Wrapf(err, "could not restore %s", Quantity(q))
		}
		chains[q] = c
	}
	if err := checkLockstep(chains); err != nil {
		return nil, err
	}

	e.chains = chains
	return e, nil
}
