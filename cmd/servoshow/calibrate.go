package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/servoshow/internal/config"
	"github.com/banshee-data/servoshow/internal/console"
	"github.com/banshee-data/servoshow/internal/monitoring"
	"github.com/banshee-data/servoshow/internal/playback"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
	"github.com/banshee-data/servoshow/internal/transport"
)

func handleCalibrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	rig := addRigFlags(fs)
	dryRun := fs.Bool("dry-run", false, "Log packets instead of opening the serial port")
	fs.Parse(args)

	e := defaultEnv()
	cfg, err := rig.resolve(fs, e.fsys)
	if err != nil {
		return err
	}
	if *dryRun {
		e.open = transport.DryRunOpener
	}

	restore, err := console.MakeRaw(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to switch terminal to raw mode: %w", err)
	}
	defer restore()
	log.SetOutput(crlfWriter{os.Stderr})
	defer log.SetOutput(os.Stderr)
	e.trigger = console.NewKeyTrigger(os.Stdin, console.KeyOptions{QuitKey: cfg.GetKeyOptions().QuitKey})

	return runCalibrate(ctx, e, cfg)
}

// runCalibrate holds every channel at its calibrated neutral pulse until any
// key is pressed or ctx is cancelled.
func runCalibrate(ctx context.Context, e *env, cfg *config.RigConfig) error {
	table := cfg.CalibrationTable()
	channels := cfg.GetChannels()
	if table.Len() < channels {
		return fmt.Errorf("calibration table covers %d channels, rig has %d", table.Len(), channels)
	}
	neutral := &show.Show{
		Name:     "calibrate",
		Channels: channels,
		Frames:   []show.Frame{show.CalibrationFrame(table, channels)},
	}

	portPath := cfg.GetPortPath()
	sink, err := e.open(portPath, cfg.PortOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			monitoring.Logf("failed to close %s: %v", portPath, err)
		}
	}()

	sched, err := playback.New(neutral, protocol.NewEncoder(table), sink, playback.Options{
		PollInterval: cfg.GetPollInterval(),
		Clock:        e.clock,
	})
	if err != nil {
		return err
	}
	if err := sched.Arm(); err != nil {
		return err
	}
	defer sched.Stop()

	fmt.Fprintf(e.stdout, "neutral pose sent to %d channels on %s; press any key to finish\n", channels, portPath)
	trigger := console.MultiTrigger{console.ContextTrigger(ctx), e.trigger}
	for trigger.Poll() == console.None {
		e.clock.Sleep(cfg.GetPollInterval())
	}
	return nil
}
