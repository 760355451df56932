// Package main implements stressacf, which feeds a stream of stress-tensor samples
// into a multiple-tau correlator ensemble and writes the stress autocorrelations and
// the shear relaxation modulus G(t).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var log = logrus.WithField("prefix", "main")

var (
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json",
		Value: "text",
	}
)

func configureLogging(cliCtx *cli.Context) error {
	level, err := logrus.ParseLevel(cliCtx.String(verbosityFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	switch format := cliCtx.String(logFormatFlag.Name); format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		logrus.SetFormatter(formatter)
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %s", format)
	}
	return nil
}

func newApp() *cli.App {
	app := &cli.App{}
	app.Name = "stressacf"
	app.Usage = "multiple-tau autocorrelation of stress-tensor samples"
	app.Flags = []cli.Flag{verbosityFlag, logFormatFlag}
	app.Commands = []*cli.Command{runCmd, inspectCmd}
	app.Before = configureLogging
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
