package main

import (
	"errors"
	"flag"

	"github.com/banshee-data/servoshow/internal/config"
	"github.com/banshee-data/servoshow/internal/fsutil"
)

var errShowRequired = errors.New("--show flag is required")

// rigFlags are the flags shared by every command that needs a rig. Flags
// given on the command line override the config file.
type rigFlags struct {
	config   string
	port     string
	baud     int
	channels int
	ramp     string
}

func addRigFlags(fs *flag.FlagSet) *rigFlags {
	f := &rigFlags{}
	fs.StringVar(&f.config, "config", "", "Rig configuration JSON file")
	fs.StringVar(&f.port, "port", "", "Serial device (overrides config)")
	fs.IntVar(&f.baud, "baud", 0, "Baud rate (overrides config)")
	fs.IntVar(&f.channels, "channels", 0, "Servo channel count (overrides config)")
	fs.StringVar(&f.ramp, "ramp-policy", "", "Ramp conversion: truncate or linear (overrides config)")
	return f
}

// resolve loads the config file, falling back to config.DefaultConfigPath, and
// overlays every flag that was set explicitly on fs.
func (f *rigFlags) resolve(fs *flag.FlagSet, fsys fsutil.FileSystem) (*config.RigConfig, error) {
	var (
		cfg *config.RigConfig
		err error
	)
	if f.config != "" {
		cfg, err = config.LoadRigConfig(fsys, f.config)
	} else {
		cfg, err = config.LoadDefaultConfig(fsys)
	}
	if err != nil {
		return nil, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.PortPath = &f.port
		case "baud":
			cfg.BaudRate = &f.baud
		case "channels":
			cfg.Channels = &f.channels
		case "ramp-policy":
			cfg.RampPolicy = &f.ramp
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
