// Package show models a servo animation as an ordered list of frames, each a
// simultaneous command for every channel followed by a pause, and loads shows
// from their comma-delimited text form.
package show

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/servoshow/internal/calibration"
	"github.com/banshee-data/servoshow/internal/protocol"
)

// DefaultChannels is the channel count of the reference rig.
const DefaultChannels = 8

// MaxPause is the longest pause a frame may hold, in milliseconds. It keeps
// the pause and the show's total duration well inside time.Duration.
const MaxPause = 60 * 60 * 1000

// Neutral pose used by CalibrationFrame.
const (
	NeutralPulse = 1500
	NeutralSpeed = 220
)

var (
	ErrPauseRange  = errors.New("pause too long")
	ErrEmptyShow   = errors.New("show has no frames")
	ErrFrameShape  = errors.New("frame does not address every channel exactly once")
	ErrNegativeArg = errors.New("value must be non-negative")
)

// Frame is one pose of the show: a command per channel, indexed by channel,
// and the pause in milliseconds that follows it.
type Frame struct {
	Pause    int                `json:"pause_ms"`
	Commands []protocol.Command `json:"commands"`
}

// PauseDuration returns the frame's pause as a time.Duration.
func (f Frame) PauseDuration() time.Duration {
	return time.Duration(f.Pause) * time.Millisecond
}

// Show is an immutable sequence of frames. Playback only reads it.
type Show struct {
	Name     string  `json:"name"`
	Channels int     `json:"channels"`
	Frames   []Frame `json:"frames"`
}

// Len returns the number of frames.
func (s *Show) Len() int { return len(s.Frames) }

// Duration is the sum of every frame's pause, i.e. the length of one pass.
func (s *Show) Duration() time.Duration {
	var total time.Duration
	for _, f := range s.Frames {
		total += f.PauseDuration()
	}
	return total
}

// Validate checks the structural invariants: at least one frame, every frame
// carrying exactly Channels commands with command i on channel i, and pauses
// in [0, MaxPause]. Range checks against the controller belong to the encoder.
func (s *Show) Validate() error {
	if len(s.Frames) == 0 {
		return ErrEmptyShow
	}
	for i, f := range s.Frames {
		if f.Pause < 0 {
			return fmt.Errorf("frame %d: pause %d: %w", i, f.Pause, ErrNegativeArg)
		}
		if f.Pause > MaxPause {
			return fmt.Errorf("frame %d: pause %d exceeds %d: %w", i, f.Pause, MaxPause, ErrPauseRange)
		}
		if len(f.Commands) != s.Channels {
			return fmt.Errorf("frame %d: %d commands for %d channels: %w", i, len(f.Commands), s.Channels, ErrFrameShape)
		}
		for ch, cmd := range f.Commands {
			if cmd.Channel != ch {
				return fmt.Errorf("frame %d: command %d addresses channel %d: %w", i, ch, cmd.Channel, ErrFrameShape)
			}
		}
	}
	return nil
}

// Summary describes a show for the check command.
type Summary struct {
	Name     string        `json:"name"`
	Frames   int           `json:"frames"`
	Channels int           `json:"channels"`
	Duration time.Duration `json:"duration"`
	// Invalid counts commands the encoder would refuse to send.
	Invalid int `json:"invalid"`
}

// Summarize validates every command against enc and reports the totals. The
// per-command errors are returned in frame order.
func (s *Show) Summarize(enc *protocol.Encoder) (Summary, []error) {
	sum := Summary{
		Name:     s.Name,
		Frames:   len(s.Frames),
		Channels: s.Channels,
		Duration: s.Duration(),
	}
	var errs []error
	for i, f := range s.Frames {
		for _, cmd := range f.Commands {
			if _, err := enc.EncodeCommand(cmd); err != nil {
				sum.Invalid++
				errs = append(errs, fmt.Errorf("frame %d: %w", i, err))
			}
		}
	}
	return sum, errs
}

// CalibrationFrame returns the neutral pose: every channel at its calibrated
// centre, a moderate ramp and no pause.
func CalibrationFrame(table *calibration.Table, channels int) Frame {
	f := Frame{Commands: make([]protocol.Command, channels)}
	for ch := 0; ch < channels; ch++ {
		f.Commands[ch] = protocol.Command{
			Channel: ch,
			Target:  (NeutralPulse + table.Offset(ch)) * protocol.Scale,
			Speed:   NeutralSpeed,
		}
	}
	return f
}
