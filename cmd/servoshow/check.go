package main

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/banshee-data/servoshow/internal/config"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
)

func handleCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	rig := addRigFlags(fs)
	showPath := fs.String("show", "", "Show file to check (required)")
	asJSON := fs.Bool("json", false, "Print the summary as JSON")
	fs.Parse(args)

	e := defaultEnv()
	cfg, err := rig.resolve(fs, e.fsys)
	if err != nil {
		return err
	}
	return runCheck(e, cfg, *showPath, *asJSON)
}

// runCheck loads the show and reports every command the encoder would refuse.
// It fails when any command is invalid.
func runCheck(e *env, cfg *config.RigConfig, showPath string, asJSON bool) error {
	if showPath == "" {
		return errShowRequired
	}
	s, err := loadShow(e, cfg, showPath)
	if err != nil {
		return err
	}

	sum, problems := s.Summarize(protocol.NewEncoder(cfg.CalibrationTable()))
	if asJSON {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(e.stdout, "show:     %s\n", sum.Name)
		fmt.Fprintf(e.stdout, "frames:   %d\n", sum.Frames)
		fmt.Fprintf(e.stdout, "channels: %d\n", sum.Channels)
		fmt.Fprintf(e.stdout, "duration: %v per pass\n", sum.Duration)
		fmt.Fprintf(e.stdout, "invalid:  %d\n", sum.Invalid)
		for _, p := range problems {
			fmt.Fprintf(e.stdout, "  %v\n", p)
		}
	}

	if sum.Invalid > 0 {
		return fmt.Errorf("%d commands would be skipped during playback", sum.Invalid)
	}
	return nil
}

func loadShow(e *env, cfg *config.RigConfig, path string) (*show.Show, error) {
	loader, err := show.NewLoader(cfg.CalibrationTable(), cfg.GetChannels(), cfg.GetRampPolicy())
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(e.fsys, path)
}
