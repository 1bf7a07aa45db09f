package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/servoshow/internal/calibration"
	"github.com/banshee-data/servoshow/internal/console"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
	"github.com/banshee-data/servoshow/internal/timeutil"
	"github.com/banshee-data/servoshow/internal/transport"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func nopLogf(string, ...interface{}) {}

// neutralShow builds an 8-channel show holding the neutral pose with the
// given pauses.
func neutralShow(pauses ...int) *show.Show {
	table := calibration.Default()
	s := &show.Show{Name: "test", Channels: show.DefaultChannels}
	for _, p := range pauses {
		f := show.CalibrationFrame(table, show.DefaultChannels)
		f.Pause = p
		s.Frames = append(s.Frames, f)
	}
	return s
}

type harness struct {
	sched *Scheduler
	port  *transport.TestablePort
	sink  *transport.Port[*transport.TestablePort]
	clock *timeutil.MockClock
}

func newHarness(t *testing.T, s *show.Show, loop LoopPolicy) *harness {
	t.Helper()
	port := transport.NewTestablePort()
	sink := transport.NewPort(port)
	clock := timeutil.NewMockClock(epoch)
	sched, err := New(s, protocol.NewEncoder(calibration.Default()), sink, Options{
		Loop:  loop,
		Clock: clock,
		Logf:  nopLogf,
	})
	require.NoError(t, err)
	return &harness{sched: sched, port: port, sink: sink, clock: clock}
}

func (h *harness) packets(t *testing.T) []protocol.Packet {
	t.Helper()
	pkts, err := h.port.Packets()
	require.NoError(t, err)
	return pkts
}

func (h *harness) running(t *testing.T) {
	t.Helper()
	require.NoError(t, h.sched.Arm())
	require.NoError(t, h.sched.Start())
}

// Loads a 2-frame show from text, arms, starts and steps twice.
func TestScheduler_EndToEnd(t *testing.T) {
	var b strings.Builder
	b.WriteString("Demo 2\nframe,pause,r1,r2,r3,r4,r5,r6,r7,r8,t1,t2,t3,t4,t5,t6,t7,t8\n")
	for i, pause := range []int{0, 2000} {
		fmt.Fprintf(&b, "%d,%d,0,0,0,0,0,0,0,0,1500,1500,1500,1500,1500,1500,1500,1500\n", i, pause)
	}
	loader, err := show.NewLoader(calibration.Default(), show.DefaultChannels, show.RampTruncate)
	require.NoError(t, err)
	s, err := loader.Load(strings.NewReader(b.String()))
	require.NoError(t, err)

	h := newHarness(t, s, LoopPolicy{})
	require.NoError(t, h.sched.Arm())
	assert.Len(t, h.packets(t), 16, "arm sends frame 0")
	assert.Empty(t, h.clock.Sleeps(), "arm does not pause")
	h.port.Reset()

	require.NoError(t, h.sched.Start())

	rep, err := h.sched.Step()
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Frame)
	assert.Equal(t, 16, rep.Packets)
	assert.Empty(t, h.clock.Sleeps(), "frame 0 has no pause")

	before := h.clock.Now()
	rep, err = h.sched.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Frame)
	assert.Nil(t, rep.Warning)
	assert.Equal(t, 2*time.Second, h.clock.Since(before))
	assert.Equal(t, []time.Duration{2 * time.Second}, h.clock.Sleeps())

	pkts := h.packets(t)
	require.Len(t, pkts, 32)
	var speeds, positions int
	for i, p := range pkts {
		switch p.Op {
		case protocol.OpSetSpeed:
			speeds++
			assert.Equal(t, 0, i%2, "speed precedes position")
		case protocol.OpSetPosition:
			positions++
			assert.Equal(t, pkts[i-1].Channel, p.Channel)
		}
	}
	assert.Equal(t, 16, speeds)
	assert.Equal(t, 16, positions)
}

func TestSplitPause(t *testing.T) {
	tests := []struct {
		ms   int
		sec  int64
		nsec int64
	}{
		{0, 0, 0},
		{1, 0, 1_000_000},
		{999, 0, 999_000_000},
		{1000, 1, 0},
		{1500, 1, 500_000_000},
		{2000, 2, 0},
		{61001, 61, 1_000_000},
		{-5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.ms), func(t *testing.T) {
			sec, nsec := SplitPause(tt.ms)
			assert.Equal(t, tt.sec, sec)
			assert.Equal(t, tt.nsec, nsec)
		})
	}
}

func TestScheduler_SleepsInSplitParts(t *testing.T) {
	h := newHarness(t, neutralShow(1500, 250), LoopPolicy{})
	h.running(t)

	_, err := h.sched.Step()
	require.NoError(t, err)
	_, err = h.sched.Step()
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Second, 500 * time.Millisecond, 250 * time.Millisecond}, h.clock.Sleeps())
	assert.Equal(t, epoch.Add(1750*time.Millisecond), h.clock.Now())
}

func TestScheduler_LoopWindow(t *testing.T) {
	h := newHarness(t, neutralShow(10, 20, 30, 40, 50), LoopPolicy{Window: 2})
	h.running(t)

	var frames, passes []int
	for i := 0; i < 5; i++ {
		rep, err := h.sched.Step()
		require.NoError(t, err)
		assert.False(t, rep.Finished)
		frames = append(frames, rep.Frame)
		passes = append(passes, rep.Pass)
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, frames)
	assert.Equal(t, []int{0, 0, 1, 1, 2}, passes)
	assert.Equal(t, StateRunning, h.sched.State())
	assert.Equal(t, 2, h.sched.Status().Window)
}

func TestScheduler_FullShowWrapsByDefault(t *testing.T) {
	h := newHarness(t, neutralShow(1, 1, 1, 1, 1, 1), LoopPolicy{})
	h.running(t)

	var frames []int
	for i := 0; i < 8; i++ {
		rep, err := h.sched.Step()
		require.NoError(t, err)
		frames = append(frames, rep.Frame)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 0, 1}, frames)
}

func TestScheduler_Once(t *testing.T) {
	h := newHarness(t, neutralShow(10, 20, 30), LoopPolicy{Once: true})
	h.running(t)

	for i := 0; i < 2; i++ {
		rep, err := h.sched.Step()
		require.NoError(t, err)
		assert.False(t, rep.Finished)
	}
	rep, err := h.sched.Step()
	require.NoError(t, err)
	assert.True(t, rep.Finished)
	assert.Equal(t, 2, rep.Frame)
	assert.Equal(t, StateStopped, h.sched.State())

	_, err = h.sched.Step()
	assert.ErrorIs(t, err, ErrStopped)
	assert.Len(t, h.packets(t), 16*4, "arm plus three frames")
}

func TestScheduler_InvalidTransitions(t *testing.T) {
	h := newHarness(t, neutralShow(10), LoopPolicy{})

	_, err := h.sched.Step()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, h.sched.Start(), ErrInvalidState)

	require.NoError(t, h.sched.Arm())
	assert.ErrorIs(t, h.sched.Arm(), ErrInvalidState)
	_, err = h.sched.Step()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, h.sched.Start())
	assert.ErrorIs(t, h.sched.Start(), ErrInvalidState)
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	for _, st := range []State{StateIdle, StateArmed, StateRunning} {
		t.Run(st.String(), func(t *testing.T) {
			h := newHarness(t, neutralShow(10), LoopPolicy{})
			if st >= StateArmed {
				require.NoError(t, h.sched.Arm())
			}
			if st == StateRunning {
				require.NoError(t, h.sched.Start())
			}
			h.sched.Stop()
			h.sched.Stop()
			assert.Equal(t, StateStopped, h.sched.State())
			assert.Equal(t, "stopped", h.sched.Status().State)
		})
	}
}

func TestScheduler_StopDuringSleep(t *testing.T) {
	h := newHarness(t, neutralShow(2000, 2000), LoopPolicy{})
	h.running(t)

	h.clock.OnSleep(func(d time.Duration) time.Duration {
		h.sched.Stop()
		return d
	})

	rep, err := h.sched.Step()
	require.NoError(t, err, "the step in flight completes")
	assert.Equal(t, 16, rep.Packets)
	assert.Nil(t, rep.Warning)

	_, err = h.sched.Step()
	assert.ErrorIs(t, err, ErrStopped)

	assert.Zero(t, len(h.port.GetWrittenData())%protocol.PacketSize, "no partial packet")
	assert.Len(t, h.packets(t), 32)
}

func TestScheduler_TimingWarning(t *testing.T) {
	h := newHarness(t, neutralShow(100, 100), LoopPolicy{})
	h.running(t)

	h.clock.OnSleep(func(d time.Duration) time.Duration { return d / 2 })

	rep, err := h.sched.Step()
	require.NoError(t, err)
	var w *TimingWarning
	require.True(t, errors.As(rep.Warning, &w), "got %v", rep.Warning)
	assert.Equal(t, 100*time.Millisecond, w.Requested)
	assert.Equal(t, 50*time.Millisecond, w.Actual)

	rep, err = h.sched.Step()
	require.NoError(t, err, "a short pause is not fatal")
	assert.Equal(t, 1, rep.Frame)

	st := h.sched.Status()
	assert.Equal(t, 2, st.Warnings)
	assert.Equal(t, 2, st.Timing.Short)
	assert.InDelta(t, -50.0, st.Timing.MeanDriftMs, 1e-9)
}

func TestScheduler_TransportFailure(t *testing.T) {
	h := newHarness(t, neutralShow(10, 10), LoopPolicy{})
	boom := errors.New("link down")
	h.port.FailAfter = 20
	h.port.FailError = boom
	h.running(t)

	rep, err := h.sched.Step()
	var terr *TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, terr.Frame)
	assert.Equal(t, 2, terr.Channel)
	assert.Equal(t, 4, rep.Packets)
	assert.Equal(t, StateStopped, h.sched.State())
	assert.Empty(t, h.clock.Sleeps(), "no pause after a failed send")
}

func TestScheduler_SkipsInvalidCommands(t *testing.T) {
	s := neutralShow(10)
	s.Frames[0].Commands[3].Target = 0
	s.Frames[0].Commands[5].Speed = protocol.MaxSpeed + 1

	h := newHarness(t, s, LoopPolicy{})
	require.NoError(t, h.sched.Arm())
	require.NoError(t, h.sched.Start())

	rep, err := h.sched.Step()
	require.NoError(t, err)
	require.Len(t, rep.Skipped, 2)
	assert.ErrorIs(t, rep.Skipped[0], protocol.ErrPositionRange)
	assert.ErrorIs(t, rep.Skipped[1], protocol.ErrSpeedRange)
	assert.Equal(t, 12, rep.Packets)

	for _, p := range h.packets(t) {
		assert.NotContains(t, []int{3, 5}, p.Channel)
	}
	assert.Equal(t, 4, h.sched.Status().Skipped, "arm and step each skip two")
}

func TestNew_Validation(t *testing.T) {
	sink := transport.NewPort(transport.NewTestablePort())
	enc := protocol.NewEncoder(calibration.Default())

	_, err := New(neutralShow(10, 10), enc, sink, Options{Loop: LoopPolicy{Window: 3}})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = New(neutralShow(10, 10), enc, sink, Options{Loop: LoopPolicy{Window: -1}})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = New(&show.Show{Channels: 8}, enc, sink, Options{})
	assert.ErrorIs(t, err, show.ErrEmptyShow)
}

// script returns a trigger that replays events, then reports None.
func script(events ...console.Event) console.Trigger {
	return console.TriggerFunc(func() console.Event {
		if len(events) == 0 {
			return console.None
		}
		ev := events[0]
		events = events[1:]
		return ev
	})
}

func TestRun_WaitsForStartThenPlaysOnce(t *testing.T) {
	h := newHarness(t, neutralShow(100, 200), LoopPolicy{Once: true})

	err := h.sched.Run(context.Background(), script(console.None, console.None, console.Start))
	require.NoError(t, err)

	assert.Equal(t, StateStopped, h.sched.State())
	assert.Equal(t, []time.Duration{
		DefaultPollInterval, DefaultPollInterval,
		100 * time.Millisecond, 200 * time.Millisecond,
	}, h.clock.Sleeps())
	assert.Len(t, h.packets(t), 16*3)
}

func TestRun_QuitBeforeStart(t *testing.T) {
	h := newHarness(t, neutralShow(100), LoopPolicy{})

	require.NoError(t, h.sched.Run(context.Background(), script(console.None, console.Quit)))
	assert.Equal(t, StateStopped, h.sched.State())
	assert.Len(t, h.packets(t), 16, "only the arming frame")
}

func TestRun_QuitWhileRunning(t *testing.T) {
	h := newHarness(t, neutralShow(100, 100), LoopPolicy{})

	trig := script(console.Start, console.None, console.None, console.None, console.Quit)
	require.NoError(t, h.sched.Run(context.Background(), trig))
	st := h.sched.Status()
	assert.Equal(t, 1, st.Pass)
	assert.Equal(t, 1, st.Frame)
	assert.Len(t, h.packets(t), 16*4)
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, neutralShow(100, 100), LoopPolicy{})
	ctx, cancel := context.WithCancel(context.Background())

	steps := 0
	h.clock.OnSleep(func(d time.Duration) time.Duration {
		steps++
		if steps == 5 {
			cancel()
		}
		return d
	})

	require.NoError(t, h.sched.Run(ctx, console.Immediate()))
	assert.Equal(t, StateStopped, h.sched.State())
	assert.Len(t, h.clock.Sleeps(), 5)
}

func TestRun_TransportFailureIsReturned(t *testing.T) {
	h := newHarness(t, neutralShow(100), LoopPolicy{})
	h.port.FailAfter = 1
	h.port.FailError = errors.New("unplugged")

	err := h.sched.Run(context.Background(), console.Immediate())
	var terr *TransportError
	assert.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, StateStopped, h.sched.State())
}

// localHostRequest creates a request that appears to come from localhost so
// tsweb.AllowDebugAccess lets it through.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestScheduler_AttachAdminRoutes(t *testing.T) {
	h := newHarness(t, neutralShow(100, 100), LoopPolicy{Window: 1})
	h.running(t)
	_, err := h.sched.Step()
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.sched.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/playback", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "test", st.Show)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 1, st.Pass)
	assert.Equal(t, 32, st.Packets)
	assert.True(t, epoch.Equal(st.StartedAt), "started at %v", st.StartedAt)

	form := url.Values{"stop": {"1"}}
	req := localHostRequest(http.MethodPost, "/debug/playback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, StateStopped, h.sched.State())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodDelete, "/debug/playback", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
