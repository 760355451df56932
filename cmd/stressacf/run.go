package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/n0madic/go-multitau/config"
	"github.com/n0madic/go-multitau/stress"
)

var runFlags = struct {
	Config          string
	Input           string
	Output          string
	Snapshot        string
	SamplingInt     float64
	Coarsening      int
	Capacity        int
	Volume          float64
	Temperature     float64
	CheckpointDir   string
	Resume          bool
	CheckpointEvery uint64
}{}

var runCmd = &cli.Command{
	Name:   "run",
	Usage:  "read stress samples, one per simulation step, and write the autocorrelation report",
	Action: cliActionRun,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "YAML configuration file; flags given explicitly take precedence",
			Destination: &runFlags.Config,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "stress sample file (9 components per line, optional leading step column), - for stdin",
			Destination: &runFlags.Input,
			Value:       "-",
		},
		&cli.StringFlag{
			Name:        "output",
			Usage:       "report file, - for stdout",
			Destination: &runFlags.Output,
			Value:       "-",
		},
		&cli.StringFlag{
			Name:        "snapshot",
			Usage:       "also write a compressed snapshot of the whole ensemble to this file",
			Destination: &runFlags.Snapshot,
		},
		&cli.Float64Flag{
			Name:        "dt",
			Usage:       "time between two samples",
			Destination: &runFlags.SamplingInt,
		},
		&cli.IntFlag{
			Name:        "m",
			Usage:       "coarsening factor",
			Destination: &runFlags.Coarsening,
		},
		&cli.IntFlag{
			Name:        "p",
			Usage:       "lag slots per level",
			Destination: &runFlags.Capacity,
		},
		&cli.Float64Flag{
			Name:        "volume",
			Usage:       "system volume used for G(t)",
			Destination: &runFlags.Volume,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Usage:       "temperature in energy units used for G(t)",
			Destination: &runFlags.Temperature,
		},
		&cli.StringFlag{
			Name:        "checkpoint-dir",
			Usage:       "enable checkpoints and store the six correlator records in this directory",
			Destination: &runFlags.CheckpointDir,
		},
		&cli.BoolFlag{
			Name:        "resume",
			Usage:       "restore the correlators from --checkpoint-dir before reading samples",
			Destination: &runFlags.Resume,
		},
		&cli.Uint64Flag{
			Name:        "checkpoint-every",
			Usage:       "save a checkpoint every N steps in addition to the final one",
			Destination: &runFlags.CheckpointEvery,
		},
	},
}

func cliActionRun(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if runFlags.Input != "-" {
		f, err := os.Open(runFlags.Input) // #nosec G304
		if err != nil {
			return errors.Wrap(err, "could not open input")
		}
		defer f.Close()
		in = f
	}

	// the previous report stays in place unless the whole run succeeds
	var report bytes.Buffer
	e, err := run(cfg, in, &report)
	if err != nil {
		return err
	}

	if runFlags.Output == "-" {
		if _, err := report.WriteTo(os.Stdout); err != nil {
			return errors.Wrap(err, "could not write report")
		}
	} else if err := writeFileAtomic(runFlags.Output, &report); err != nil {
		return errors.Wrap(err, "could not write report")
	}

	if runFlags.Snapshot != "" {
		if err := writeFileAtomic(runFlags.Snapshot, snapshotWriter{e}); err != nil {
			return errors.Wrap(err, "could not write snapshot")
		}
		log.WithField("path", runFlags.Snapshot).Info("Saved ensemble snapshot")
	}
	return nil
}

// loadConfig reads the configuration file, if any, and applies explicitly set flags.
func loadConfig(cliCtx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if cliCtx.IsSet("config") {
		var err error
		if cfg, err = config.Load(runFlags.Config); err != nil {
			return nil, err
		}
	}

	if cliCtx.IsSet("dt") {
		cfg.SamplingInterval = runFlags.SamplingInt
	}
	if cliCtx.IsSet("m") {
		cfg.Coarsening = runFlags.Coarsening
	}
	if cliCtx.IsSet("p") {
		cfg.Capacity = runFlags.Capacity
	}
	if cliCtx.IsSet("volume") {
		cfg.Volume = runFlags.Volume
	}
	if cliCtx.IsSet("temperature") {
		cfg.Temperature = runFlags.Temperature
	}
	if cliCtx.IsSet("checkpoint-dir") {
		cfg.Checkpoint.Enabled = true
		cfg.Checkpoint.Path = runFlags.CheckpointDir
	}
	if cliCtx.IsSet("resume") {
		cfg.Checkpoint.Resume = runFlags.Resume
	}
	if cliCtx.IsSet("checkpoint-every") {
		cfg.Checkpoint.Every = runFlags.CheckpointEvery
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run feeds every sample of in into the ensemble described by cfg, checkpoints as
// configured and writes the report to out.
func run(cfg *config.Config, in io.Reader, out io.Writer) (*stress.Ensemble, error) {
	e, err := cfg.NewEnsemble()
	if err != nil {
		return nil, err
	}
	first := e.Steps()

	r := stress.NewReader(in)
	for {
		tensor, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := e.Update(tensor); err != nil {
			return nil, errors.Wrapf(err, "line %d", r.Line())
		}

		if cfg.Checkpoint.Enabled && cfg.Checkpoint.Every > 0 && e.Steps()%cfg.Checkpoint.Every == 0 {
			if err := e.SaveDir(cfg.Checkpoint.Path); err != nil {
				return nil, err
			}
		}
	}

	log.WithFields(logrus.Fields{
		"samples": e.Steps() - first,
		"steps":   e.Steps(),
		"depth":   e.Chain(stress.ShearXY).Depth(),
	}).Info("Processed stress samples")

	if cfg.Checkpoint.Enabled {
		if err := e.SaveDir(cfg.Checkpoint.Path); err != nil {
			return nil, err
		}
		log.WithField("dir", cfg.Checkpoint.Path).Info("Saved checkpoint")
	}

	if _, err := e.Report().WriteTo(out); err != nil {
		return nil, errors.Wrap(err, "could not write report")
	}
	return e, nil
}

type snapshotWriter struct {
	e *stress.Ensemble
}

func (s snapshotWriter) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := s.e.SaveSnapshot(cw)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	n, err := cw.w.Write(b)
	cw.n += int64(n)
	return n, err
}

// writeFileAtomic writes src to a temporary file next to path and renames it into
// place once it is complete.
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
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
