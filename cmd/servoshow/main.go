package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/servoshow/internal/console"
	"github.com/banshee-data/servoshow/internal/fsutil"
	"github.com/banshee-data/servoshow/internal/timeutil"
	"github.com/banshee-data/servoshow/internal/transport"
	"github.com/banshee-data/servoshow/internal/version"
)

// env carries the collaborators a command touches, so tests can swap the
// filesystem, the serial port and the operator for fakes.
type env struct {
	fsys    fsutil.FileSystem
	open    transport.Opener
	trigger console.Trigger
	clock   timeutil.Clock
	stdout  io.Writer
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "play":
		err = handlePlay(ctx, args)
	case "check":
		err = handleCheck(args)
	case "plot":
		err = handlePlot(args)
	case "calibrate":
		err = handleCalibrate(ctx, args)
	case "version":
		fmt.Printf("servoshow version %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		stop()
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`servoshow - play servo animations over a serial link

Usage: servoshow <command> [options]

Commands:
  play       Load a show, arm the rig and play it once a key is pressed
  check      Load a show and report commands the controller would reject
  plot       Render a show's pulse timeline as PNG or HTML
  calibrate  Send the neutral pose so horns can be fitted and trimmed
  version    Show servoshow version
  help       Show this help message

Common Flags:
  --show <file>         Show file (comma-delimited)
  --config <file>       Rig configuration JSON (defaults built in)
  --port <device>       Serial device (default /dev/rfcomm0)
  --baud <rate>         Baud rate (default 115200)
  --channels <n>        Servo channel count (default 8)
  --ramp-policy <name>  truncate or linear ramp-to-speed conversion

Play Flags:
  --dry-run             Log packets instead of opening the serial port
  --loop-window <n>     Cycle through the first n frames (0 = whole show)
  --once                Stop after one pass of the loop window
  --autostart           Start without waiting for a key
  --debug-listen <addr> Serve /debug/playback and /debug/serial

Keys:
  Any key starts playback (or the configured start_key); q or Ctrl-C quits.

Examples:
  # Check a show against the reference rig calibration
  servoshow check --show shows/wave.csv

  # Rehearse without hardware
  servoshow play --show shows/wave.csv --dry-run --once --autostart

  # Play on a USB controller with a custom rig file
  servoshow play --show shows/wave.csv --config rig.json --port /dev/ttyACM0

  # Render a timeline
  servoshow plot --show shows/wave.csv --out wave.html`)
}

func defaultEnv() *env {
	return &env{
		fsys:   fsutil.OSFileSystem{},
		open:   transport.SerialOpener,
		clock:  timeutil.RealClock{},
		stdout: os.Stdout,
	}
}
