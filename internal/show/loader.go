package show

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/servoshow/internal/calibration"
	"github.com/banshee-data/servoshow/internal/fsutil"
	"github.com/banshee-data/servoshow/internal/monitoring"
	"github.com/banshee-data/servoshow/internal/protocol"
)

// RawRampMax is the top of the ramp scale used by show authors.
const RawRampMax = 63

// MaxRawTarget is the largest authored target, in microseconds, whose scaled
// value still fits the protocol's 14-bit field.
const MaxRawTarget = (1<<14 - 1) / protocol.Scale

// maxShowFileSize bounds the show files LoadFile will read.
const maxShowFileSize = 4 * 1024 * 1024

var (
	ErrFrameCount  = errors.New("frame count mismatch")
	ErrColumnCount = errors.New("wrong column count")
	ErrBadNumber   = errors.New("malformed number")
	ErrBadHeader   = errors.New("malformed header")
)

// LoadError identifies the input row that stopped a load. Row is 1-based.
type LoadError struct {
	Row int
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RampPolicy converts an authored ramp value in [0, RawRampMax] into a wire
// speed in [0, protocol.MaxSpeed].
type RampPolicy int

const (
	// RampTruncate reproduces the rig's historical conversion,
	// (1 - r/63) * MaxSpeed with integer division. Every r below 63 maps to
	// MaxSpeed and r == 63 maps to 0.
	RampTruncate RampPolicy = iota
	// RampLinear spreads r linearly: r == 0 is MaxSpeed, r == 63 is 0.
	RampLinear
)

func (p RampPolicy) String() string {
	switch p {
	case RampTruncate:
		return "truncate"
	case RampLinear:
		return "linear"
	}
	return fmt.Sprintf("RampPolicy(%d)", int(p))
}

// ParseRampPolicy accepts "truncate" or "linear"; empty selects truncate.
func ParseRampPolicy(s string) (RampPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "truncate":
		return RampTruncate, nil
	case "linear":
		return RampLinear, nil
	}
	return 0, fmt.Errorf("unknown ramp policy %q: expected truncate or linear", s)
}

// Convert maps a raw ramp value in [0, RawRampMax] to a wire speed. The
// loader rejects anything outside that range.
func (p RampPolicy) Convert(r int) int {
	if p == RampLinear {
		return (RawRampMax - r) * protocol.MaxSpeed / RawRampMax
	}
	return (1 - r/RawRampMax) * protocol.MaxSpeed
}

// Loader turns tabular show data into a validated Show.
type Loader struct {
	table    *calibration.Table
	channels int
	ramp     RampPolicy
}

// NewLoader returns a Loader for shows with the given channel count. Every
// channel must be covered by table.
func NewLoader(table *calibration.Table, channels int, ramp RampPolicy) (*Loader, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if channels-1 > protocol.MaxChannel {
		return nil, fmt.Errorf("channel count %d exceeds controller limit of %d", channels, protocol.MaxChannel+1)
	}
	if table.Len() < channels {
		return nil, fmt.Errorf("calibration table covers %d channels, show needs %d", table.Len(), channels)
	}
	return &Loader{table: table, channels: channels, ramp: ramp}, nil
}

type record struct {
	line  int
	cells []string
}

// LoadRows builds a Show from already-split rows. Row 1 holds a label and the
// frame count, row 2 is an ignored column header and each following row is
// frame_index, pause_ms, ramp_1..N, target_1..N.
func (l *Loader) LoadRows(rows [][]string) (*Show, error) {
	recs := make([]record, len(rows))
	for i, r := range rows {
		recs[i] = record{line: i + 1, cells: r}
	}
	return l.load(recs)
}

// Load reads comma-delimited show data from r.
func (l *Loader) Load(r io.Reader) (*Show, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		recs []record
		last int
	)
	for {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &LoadError{Row: perr.Line, Err: err}
			}
			return nil, &LoadError{Row: last + 1, Err: err}
		}
		last, _ = cr.FieldPos(0)
		recs = append(recs, record{line: last, cells: cells})
	}
	return l.load(recs)
}

// LoadFile reads and loads the show at path.
func (l *Loader) LoadFile(fsys fsutil.FileSystem, path string) (*Show, error) {
	path = filepath.Clean(path)
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat show file: %w", err)
	}
	if info.Size() > maxShowFileSize {
		return nil, fmt.Errorf("show file too large: %d bytes (max %d)", info.Size(), maxShowFileSize)
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open show file: %w", err)
	}
	defer f.Close()

	s, err := l.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	monitoring.Logf("loaded show %q from %s: %d frames, %d channels, %v per pass",
		s.Name, path, s.Len(), s.Channels, s.Duration())
	return s, nil
}

func (l *Loader) load(recs []record) (*Show, error) {
	if len(recs) == 0 {
		return nil, &LoadError{Row: 1, Err: fmt.Errorf("%w: empty input", ErrBadHeader)}
	}
	name, count, err := parseHeader(recs[0].cells)
	if err != nil {
		return nil, &LoadError{Row: recs[0].line, Err: err}
	}

	// Everything after the ignored column header, minus blank rows.
	var data []record
	if len(recs) > 1 {
		for _, r := range recs[2:] {
			if len(trimTrailingEmpty(r.cells)) > 0 {
				data = append(data, r)
			}
		}
	}

	if len(data) < count {
		missing := recs[len(recs)-1].line + 1
		return nil, &LoadError{Row: missing, Err: fmt.Errorf("%w: declared %d frames, found %d rows", ErrFrameCount, count, len(data))}
	}
	if len(data) > count {
		return nil, &LoadError{Row: data[count].line, Err: fmt.Errorf("%w: declared %d frames, found %d rows", ErrFrameCount, count, len(data))}
	}

	s := &Show{Name: name, Channels: l.channels, Frames: make([]Frame, 0, count)}
	for _, r := range data {
		f, err := l.parseFrame(r.cells)
		if err != nil {
			return nil, &LoadError{Row: r.line, Err: err}
		}
		s.Frames = append(s.Frames, f)
	}

	if err := s.Validate(); err != nil {
		return nil, &LoadError{Row: recs[0].line, Err: err}
	}
	return s, nil
}

func parseHeader(cells []string) (string, int, error) {
	var tokens []string
	for _, c := range cells {
		tokens = append(tokens, strings.Fields(c)...)
	}
	if len(tokens) < 2 {
		return "", 0, fmt.Errorf("%w: expected a label and a frame count", ErrBadHeader)
	}
	count, err := strconv.Atoi(tokens[1])
	if err != nil {
		return "", 0, fmt.Errorf("%w: frame count %q: %w", ErrBadNumber, tokens[1], err)
	}
	if count < 1 {
		return "", 0, fmt.Errorf("%w: frame count %d", ErrEmptyShow, count)
	}
	return tokens[0], count, nil
}

func (l *Loader) parseFrame(cells []string) (Frame, error) {
	cells = trimTrailingEmpty(cells)
	want := 2 + 2*l.channels
	if len(cells) != want {
		return Frame{}, fmt.Errorf("%w: got %d, want %d", ErrColumnCount, len(cells), want)
	}

	if _, err := parseNonNegative("frame index", cells[0]); err != nil {
		return Frame{}, err
	}
	pause, err := parseBounded("pause", cells[1], MaxPause)
	if err != nil {
		return Frame{}, err
	}

	f := Frame{Pause: pause, Commands: make([]protocol.Command, l.channels)}
	for ch := 0; ch < l.channels; ch++ {
		raw, err := parseBounded(fmt.Sprintf("ramp %d", ch+1), cells[2+ch], RawRampMax)
		if err != nil {
			return Frame{}, err
		}
		target, err := parseBounded(fmt.Sprintf("target %d", ch+1), cells[2+l.channels+ch], MaxRawTarget)
		if err != nil {
			return Frame{}, err
		}
		f.Commands[ch] = protocol.Command{
			Channel: ch,
			Target:  (target + l.table.Offset(ch)) * protocol.Scale,
			Speed:   l.ramp.Convert(raw),
		}
	}
	return f, nil
}

func parseNonNegative(field, s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrBadNumber, field, s)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s %d: %w", field, v, ErrNegativeArg)
	}
	return v, nil
}

func parseBounded(field, s string, limit int) (int, error) {
	v, err := parseNonNegative(field, s)
	if err != nil {
		return 0, err
	}
	if v > limit {
		return 0, fmt.Errorf("%w: %s %d exceeds %d", ErrBadNumber, field, v, limit)
	}
	return v, nil
}

func trimTrailingEmpty(cells []string) []string {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}
