package main

import (
	"flag"
	"fmt"

	"github.com/banshee-data/servoshow/internal/config"
	"github.com/banshee-data/servoshow/internal/showplot"
)

func handlePlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	rig := addRigFlags(fs)
	showPath := fs.String("show", "", "Show file to plot (required)")
	out := fs.String("out", "", "Output file (default: <show name>.<format>)")
	format := fs.String("format", "", "png or html (default: from --out extension)")
	fs.Parse(args)

	e := defaultEnv()
	cfg, err := rig.resolve(fs, e.fsys)
	if err != nil {
		return err
	}
	return runPlot(e, cfg, *showPath, *out, *format)
}

func runPlot(e *env, cfg *config.RigConfig, showPath, out, format string) error {
	if showPath == "" {
		return errShowRequired
	}
	if out == "" && format == "" {
		format = string(showplot.FormatPNG)
	}
	f, err := showplot.ParseFormat(format, out)
	if err != nil {
		return err
	}

	s, err := loadShow(e, cfg, showPath)
	if err != nil {
		return err
	}
	if out == "" {
		out = showplot.OutputName(s.Name, f)
	}
	if err := showplot.WriteFile(e.fsys, out, s, f); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "wrote %s plot of %q to %s\n", f, s.Name, out)
	return nil
}
