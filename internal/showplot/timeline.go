// Package showplot renders a show as a per-channel pulse timeline, either as a
// PNG (gonum/plot) or as an interactive HTML page (go-echarts).
package showplot

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/servoshow/internal/fsutil"
	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
)

// Point is one commanded pose: when the frame starts and the pulse it asks for.
type Point struct {
	TimeMs  float64
	PulseUs float64
	Speed   int
}

// Series is the path of a single channel through the show.
type Series struct {
	Channel int
	Points  []Point
}

// Timeline lays the frames of s out on a time axis. A frame starts once the
// pauses of every earlier frame have elapsed. Pulses are calibrated
// microseconds, the wire target divided by protocol.Scale.
func Timeline(s *show.Show) []Series {
	series := make([]Series, s.Channels)
	for ch := range series {
		series[ch] = Series{Channel: ch, Points: make([]Point, 0, s.Len())}
	}

	var t float64
	for _, f := range s.Frames {
		for _, cmd := range f.Commands {
			if cmd.Channel < 0 || cmd.Channel >= len(series) {
				continue
			}
			series[cmd.Channel].Points = append(series[cmd.Channel].Points, Point{
				TimeMs:  t,
				PulseUs: float64(cmd.Target) / protocol.Scale,
				Speed:   cmd.Speed,
			})
		}
		t += float64(f.Pause)
	}
	return series
}

// Format selects a renderer.
type Format string

const (
	FormatPNG  Format = "png"
	FormatHTML Format = "html"
)

// ParseFormat accepts png or html. An empty string picks the format from the
// extension of path.
func ParseFormat(s, path string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if s == "htm" {
			s = "html"
		}
	}
	switch Format(s) {
	case FormatPNG, FormatHTML:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported plot format %q: expected png or html", s)
}

// Render writes s to w in the given format.
func Render(w io.Writer, s *show.Show, format Format) error {
	switch format {
	case FormatPNG:
		return RenderPNG(w, s)
	case FormatHTML:
		return RenderHTML(w, s)
	}
	return fmt.Errorf("unsupported plot format %q", format)
}

// WriteFile renders s into path on fsys.
func WriteFile(fsys fsutil.FileSystem, path string, s *show.Show, format Format) error {
	f, err := fsys.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	if err := Render(f, s, format); err != nil {
		f.Close()
		return fmt.Errorf("render %s plot: %w", format, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close plot file: %w", err)
	}
	return nil
}

// OutputName derives a plot file name from a show name. Anything other than
// ASCII letters, digits, dot, underscore or dash becomes a single underscore.
func OutputName(name string, format Format) string {
	const maxLen = 128

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	base := strings.Trim(b.String(), "._")
	if base == "" {
		base = "show"
	}
	return base + "." + string(format)
}
