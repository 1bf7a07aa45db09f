// Package playback steps through a show frame by frame, sending each frame to
// the transport and sleeping for its pause.
package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/servoshow/internal/console"
	"github.com/banshee-data/servoshow/internal/httputil"
	"github.com/banshee-data/servoshow/internal/monitoring"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
	"github.com/banshee-data/servoshow/internal/timeutil"
	"github.com/banshee-data/servoshow/internal/transport"
)

// DefaultPollInterval is how often Run checks the trigger while armed.
const DefaultPollInterval = 20 * time.Millisecond

var (
	ErrInvalidState  = errors.New("invalid scheduler state")
	ErrStopped       = errors.New("playback stopped")
	ErrInvalidWindow = errors.New("invalid loop window")
)

// State is the scheduler lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateArmed
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// LoopPolicy controls which frames repeat. Window is the number of leading
// frames the cursor cycles through; zero means the whole show. Once stops
// playback after the last frame of the window.
type LoopPolicy struct {
	Window int
	Once   bool
}

// TransportError wraps a failed write. It is fatal for the run.
type TransportError struct {
	Frame   int
	Channel int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("frame %d channel %d: transport write failed: %v", e.Frame, e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimingWarning reports a pause that ended before the requested duration had
// elapsed. The shortfall is not made up.
type TimingWarning struct {
	Frame     int
	Requested time.Duration
	Actual    time.Duration
}

func (w *TimingWarning) Error() string {
	return fmt.Sprintf("frame %d: pause cut short: slept %v of %v", w.Frame, w.Actual, w.Requested)
}

// StepReport describes one sent frame.
type StepReport struct {
	Frame   int
	Pass    int
	Packets int

	// Skipped holds the validation error of every command left out of the frame.
	Skipped []error

	// Warning is a *TimingWarning when the pause was cut short.
	Warning error

	// Finished is set when a one-shot run has played its last frame.
	Finished bool
}

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	Loop         LoopPolicy
	PollInterval time.Duration
	Clock        timeutil.Clock
	Logf         func(format string, v ...interface{})

	// RunID tags the status page; optional.
	RunID string
}

// Status is the snapshot served at /debug/playback.
type Status struct {
	RunID     string        `json:"run_id,omitempty"`
	Show      string        `json:"show"`
	State     string        `json:"state"`
	Frame     int           `json:"frame"`
	Pass      int           `json:"pass"`
	Window    int           `json:"window"`
	Once      bool          `json:"once"`
	Packets   int           `json:"packets"`
	Skipped   int           `json:"skipped"`
	Warnings  int           `json:"warnings"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Timing    TimingSummary `json:"timing"`
}

// Scheduler owns the frame cursor for one show. Arm, Start, Step and Run
// must be called from a single goroutine; Stop, State and Status may be
// called from anywhere.
type Scheduler struct {
	show  *show.Show
	enc   *protocol.Encoder
	sink  transport.Sink
	clock timeutil.Clock
	logf  func(format string, v ...interface{})
	loop  LoopPolicy
	poll  time.Duration

	window int
	cursor int
	pass   int

	state atomic.Int32
	stats *Stats

	mu     sync.Mutex
	status Status
}

// New returns an idle Scheduler for s.
func New(s *show.Show, enc *protocol.Encoder, sink transport.Sink, opts Options) (*Scheduler, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	window := opts.Loop.Window
	if window < 0 || window > s.Len() {
		return nil, fmt.Errorf("%w: %d for a show of %d frames", ErrInvalidWindow, window, s.Len())
	}
	if window == 0 {
		window = s.Len()
	}

	sc := &Scheduler{
		show:   s,
		enc:    enc,
		sink:   sink,
		clock:  opts.Clock,
		logf:   opts.Logf,
		loop:   opts.Loop,
		poll:   opts.PollInterval,
		window: window,
		stats:  NewStats(),
	}
	if sc.clock == nil {
		sc.clock = timeutil.RealClock{}
	}
	if sc.logf == nil {
		sc.logf = func(format string, v ...interface{}) { monitoring.Logf(format, v...) }
	}
	if sc.poll <= 0 {
		sc.poll = DefaultPollInterval
	}
	sc.status = Status{
		RunID:  opts.RunID,
		Show:   s.Name,
		State:  StateIdle.String(),
		Window: window,
		Once:   opts.Loop.Once,
	}
	return sc, nil
}

// State returns the current lifecycle state.
func (sc *Scheduler) State() State {
	return State(sc.state.Load())
}

func (sc *Scheduler) transition(from, to State) error {
	if !sc.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidState, sc.State(), from)
	}
	sc.setStatus(func(st *Status) { st.State = to.String() })
	return nil
}

// Arm sends frame 0 once, without its pause, so the rig takes up the opening
// pose before playback starts.
func (sc *Scheduler) Arm() error {
	if sc.State() != StateIdle {
		return fmt.Errorf("%w: arm from %s", ErrInvalidState, sc.State())
	}
	rep, err := sc.send(0)
	if err != nil {
		sc.Stop()
		return err
	}
	sc.logf("armed %q: frame 0 sent (%d packets, %d skipped)", sc.show.Name, rep.Packets, len(rep.Skipped))
	return sc.transition(StateIdle, StateArmed)
}

// Start begins playback at the current cursor.
func (sc *Scheduler) Start() error {
	if err := sc.transition(StateArmed, StateRunning); err != nil {
		return err
	}
	now := sc.clock.Now()
	sc.setStatus(func(st *Status) { st.StartedAt = now })
	sc.logf("playback started: window %d of %d frames, once=%t", sc.window, sc.show.Len(), sc.loop.Once)
	return nil
}

// Stop moves the scheduler to Stopped from any state. A step already in
// progress completes its send and pause; the next Step returns ErrStopped.
func (sc *Scheduler) Stop() {
	if State(sc.state.Swap(int32(StateStopped))) == StateStopped {
		return
	}
	sc.setStatus(func(st *Status) { st.State = StateStopped.String() })
}

// Step sends the frame under the cursor, sleeps its pause and advances the
// cursor, wrapping at the loop window.
func (sc *Scheduler) Step() (StepReport, error) {
	switch st := sc.State(); st {
	case StateRunning:
	case StateStopped:
		return StepReport{Frame: sc.cursor, Pass: sc.pass}, ErrStopped
	default:
		return StepReport{}, fmt.Errorf("%w: step from %s", ErrInvalidState, st)
	}

	rep, err := sc.send(sc.cursor)
	if err != nil {
		sc.Stop()
		return rep, err
	}

	frame := sc.show.Frames[sc.cursor]
	if w := sc.pause(sc.cursor, frame.Pause); w != nil {
		rep.Warning = w
		sc.logf("warning: %v", w)
	}

	sc.cursor++
	if sc.cursor >= sc.window {
		sc.cursor = 0
		sc.pass++
		if sc.loop.Once {
			rep.Finished = true
			sc.Stop()
		}
	}
	cursor, pass := sc.cursor, sc.pass
	sc.setStatus(func(st *Status) {
		st.Frame = cursor
		st.Pass = pass
		if rep.Warning != nil {
			st.Warnings++
		}
	})
	return rep, nil
}

// send writes every valid command of frame i. Invalid commands are logged and
// skipped; the first transport failure aborts the frame.
func (sc *Scheduler) send(i int) (StepReport, error) {
	rep := StepReport{Frame: i, Pass: sc.pass}
	for _, cmd := range sc.show.Frames[i].Commands {
		pkts, err := sc.enc.EncodeCommand(cmd)
		if err != nil {
			sc.logf("frame %d: skipping command: %v", i, err)
			rep.Skipped = append(rep.Skipped, err)
			continue
		}
		for _, pkt := range pkts {
			if err := sc.sink.WritePacket(pkt); err != nil {
				sc.addCounts(rep.Packets, len(rep.Skipped))
				return rep, &TransportError{Frame: i, Channel: cmd.Channel, Err: err}
			}
			rep.Packets++
		}
	}
	sc.addCounts(rep.Packets, len(rep.Skipped))
	return rep, nil
}

// pause sleeps for ms milliseconds through the clock, in the whole-second and
// sub-second parts given by SplitPause.
func (sc *Scheduler) pause(frame, ms int) *TimingWarning {
	if ms <= 0 {
		return nil
	}
	requested := time.Duration(ms) * time.Millisecond
	sec, nsec := SplitPause(ms)

	start := sc.clock.Now()
	if sec > 0 {
		sc.clock.Sleep(time.Duration(sec) * time.Second)
	}
	if nsec > 0 {
		sc.clock.Sleep(time.Duration(nsec))
	}
	actual := sc.clock.Since(start)

	sc.stats.Record(requested, actual)
	if actual < requested {
		return &TimingWarning{Frame: frame, Requested: requested, Actual: actual}
	}
	return nil
}

// SplitPause decomposes a pause in milliseconds into whole seconds and a
// nanosecond remainder. Pauses under a second are all nanoseconds.
func SplitPause(ms int) (sec, nsec int64) {
	if ms < 0 {
		return 0, 0
	}
	sec = int64(ms / 1000)
	nsec = int64(ms%1000) * int64(time.Millisecond)
	return sec, nsec
}

// Run arms the scheduler, waits for a start event, then steps until a quit
// event, Stop, ctx cancellation, the end of a one-shot run or a fatal error.
// Cancellation and quit are clean exits and return nil.
func (sc *Scheduler) Run(ctx context.Context, trigger console.Trigger) error {
	defer sc.logSummary()

	if err := sc.Arm(); err != nil {
		if errors.Is(err, ErrInvalidState) && sc.State() == StateStopped {
			return nil
		}
		return err
	}
	sc.logf("waiting for start")

wait:
	for {
		if ctx.Err() != nil || sc.State() == StateStopped {
			sc.Stop()
			return nil
		}
		switch trigger.Poll() {
		case console.Start:
			break wait
		case console.Quit:
			sc.logf("quit before start")
			sc.Stop()
			return nil
		}
		sc.clock.Sleep(sc.poll)
	}

	if err := sc.Start(); err != nil {
		if errors.Is(err, ErrInvalidState) && sc.State() == StateStopped {
			return nil
		}
		return err
	}

	for {
		if ctx.Err() != nil {
			sc.logf("playback cancelled: %v", ctx.Err())
			sc.Stop()
			return nil
		}
		if trigger.Poll() == console.Quit {
			sc.logf("quit requested")
			sc.Stop()
			return nil
		}
		rep, err := sc.Step()
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		if rep.Finished {
			sc.logf("one-shot playback finished after %d frames", sc.window)
			return nil
		}
	}
}

func (sc *Scheduler) logSummary() {
	sum := sc.stats.Summary()
	st := sc.Status()
	sc.logf("playback %s: %d passes, %d packets, %d skipped, %d timing warnings, drift mean %.2fms sd %.2fms",
		st.State, st.Pass, st.Packets, st.Skipped, st.Warnings, sum.MeanDriftMs, sum.StdDevDriftMs)
}

func (sc *Scheduler) addCounts(packets, skipped int) {
	sc.setStatus(func(st *Status) {
		st.Packets += packets
		st.Skipped += skipped
	})
}

func (sc *Scheduler) setStatus(f func(*Status)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	f(&sc.status)
}

// Status returns a snapshot of playback progress.
func (sc *Scheduler) Status() Status {
	sc.mu.Lock()
	st := sc.status
	sc.mu.Unlock()
	st.Timing = sc.stats.Summary()
	return st
}

// AttachAdminRoutes serves the status snapshot at /debug/playback. A POST
// with stop=1 stops playback at the next step boundary.
func (sc *Scheduler) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("playback", "servo show playback status", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodPost && r.FormValue("stop") != "" {
			sc.logf("stop requested from %s", r.RemoteAddr)
			sc.Stop()
		}
		httputil.WriteJSONOK(w, sc.Status())
	})
}
