package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/n0madic/go-multitau/multitau"
)

var inspectFlags = struct {
	SamplingInt float64
	All         bool
}{}

var inspectCmd = &cli.Command{
	Name:      "inspect",
	Usage:     "print the autocorrelation stored in one correlator checkpoint record",
	ArgsUsage: "<checkpoint file>",
	Action:    cliActionInspect,
	Flags: []cli.Flag{
		&cli.Float64Flag{
			Name:        "dt",
			Usage:       "time between two samples of the recorded run",
			Destination: &inspectFlags.SamplingInt,
			Value:       1.0,
		},
		&cli.BoolFlag{
			Name:        "all",
			Usage:       "also print lags that have not received any sample yet",
			Destination: &inspectFlags.All,
		},
	},
}

func cliActionInspect(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return errors.New("expected exactly one checkpoint file")
	}
	return inspect(cliCtx.Args().First(), inspectFlags.SamplingInt, inspectFlags.All, cliCtx.App.Writer)
}

func inspect(path string, dt float64, all bool, out io.Writer) error {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return errors.Wrap(err, "could not open checkpoint")
	}
	defer f.Close()

	c, err := multitau.ReadFrom(f)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"m":       c.M(),
		"p":       c.P(),
		"depth":   c.Depth(),
		"samples": c.Samples(),
	}).Info("Loaded correlator")

	if _, err := fmt.Fprintln(out, "# lag acf samples"); err != nil {
		return err
	}
	for _, pt := range c.Report(dt) {
		if pt.Samples == 0 && !all {
			continue
		}
		if _, err := fmt.Fprintf(out, "%g %g %d\n", pt.Lag, pt.Value, pt.Samples); err != nil {
			return err
		}
	}
	return nil
}
