package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/servoshow/internal/config"
	"github.com/banshee-data/servoshow/internal/console"
	"github.com/banshee-data/servoshow/internal/monitoring"
	"github.com/banshee-data/servoshow/internal/playback"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
	"github.com/banshee-data/servoshow/internal/transport"
)

type playOptions struct {
	showPath    string
	dryRun      bool
	loopWindow  int
	once        bool
	autostart   bool
	debugListen string
}

// adminRouter is implemented by sinks that expose debug pages.
type adminRouter interface {
	AttachAdminRoutes(mux *http.ServeMux)
}

func handlePlay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	rig := addRigFlags(fs)
	var opts playOptions
	fs.StringVar(&opts.showPath, "show", "", "Show file to play (required)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Log packets instead of opening the serial port")
	fs.IntVar(&opts.loopWindow, "loop-window", 0, "Cycle through the first n frames; 0 plays the whole show")
	fs.BoolVar(&opts.once, "once", false, "Stop after one pass of the loop window")
	fs.BoolVar(&opts.autostart, "autostart", false, "Start without waiting for a key")
	fs.StringVar(&opts.debugListen, "debug-listen", "", "Address for the debug HTTP server, e.g. localhost:8081")
	fs.Parse(args)

	e := defaultEnv()
	cfg, err := rig.resolve(fs, e.fsys)
	if err != nil {
		return err
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "loop-window":
			cfg.LoopWindow = &opts.loopWindow
		case "once":
			cfg.Once = &opts.once
		}
	})
	if opts.dryRun {
		e.open = transport.DryRunOpener
	}

	if !opts.autostart {
		restore, err := console.MakeRaw(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to switch terminal to raw mode: %w", err)
		}
		defer restore()
		log.SetOutput(crlfWriter{os.Stderr})
		defer log.SetOutput(os.Stderr)
		e.trigger = console.NewKeyTrigger(os.Stdin, cfg.GetKeyOptions())
	}

	return runPlay(ctx, e, cfg, opts)
}

func runPlay(ctx context.Context, e *env, cfg *config.RigConfig, opts playOptions) error {
	if opts.showPath == "" {
		return errShowRequired
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	table := cfg.CalibrationTable()
	loader, err := show.NewLoader(table, cfg.GetChannels(), cfg.GetRampPolicy())
	if err != nil {
		return err
	}
	s, err := loader.LoadFile(e.fsys, opts.showPath)
	if err != nil {
		return err
	}

	runID := monitoring.NewRunID()
	logf := monitoring.WithPrefix(runID)

	portPath := cfg.GetPortPath()
	sink, err := e.open(portPath, cfg.PortOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logf("failed to close %s: %v", portPath, err)
		}
	}()

	sched, err := playback.New(s, protocol.NewEncoder(table), sink, playback.Options{
		Loop:         cfg.GetLoopPolicy(),
		PollInterval: cfg.GetPollInterval(),
		Clock:        e.clock,
		Logf:         logf,
		RunID:        runID,
	})
	if err != nil {
		return err
	}

	if opts.debugListen != "" {
		mux := http.NewServeMux()
		sched.AttachAdminRoutes(mux)
		if r, ok := sink.(adminRouter); ok {
			r.AttachAdminRoutes(mux)
		}
		shutdown := serveDebug(opts.debugListen, mux, logf)
		defer shutdown()
	}

	trigger := console.MultiTrigger{console.ContextTrigger(ctx)}
	if e.trigger != nil {
		trigger = append(trigger, e.trigger)
	}
	if opts.autostart {
		trigger = append(trigger, console.Immediate())
	}

	logf("playing %q on %s (%s)", s.Name, portPath, cfg.PortOptions())
	return sched.Run(ctx, trigger)
}

// serveDebug starts the debug HTTP server and returns a function that shuts
// it down.
func serveDebug(addr string, mux *http.ServeMux, logf func(string, ...interface{})) func() {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logf("debug server failed: %v", err)
		}
	}()
	logf("debug pages on http://%s/debug/", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logf("debug server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				logf("debug server force close error: %v", err)
			}
		}
	}
}

// crlfWriter restores carriage returns while the terminal is in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
