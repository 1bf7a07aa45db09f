// Package calibration holds the per-channel neutral-position offsets applied
// to servo targets before they are scaled to wire units.
package calibration

import "fmt"

// DefaultOffsets are the offsets measured on the eight-servo walking rig, in
// microseconds.
var DefaultOffsets = []int{-60, 0, 160, 120, 30, 70, -20, -160}

// Table maps a channel index to its signed offset. A Table is immutable once
// constructed.
type Table struct {
	offsets []int
}

// New returns a Table holding a copy of offsets.
func New(offsets []int) *Table {
	t := &Table{offsets: make([]int, len(offsets))}
	copy(t.offsets, offsets)
	return t
}

// Default returns a Table built from DefaultOffsets.
func Default() *Table {
	return New(DefaultOffsets)
}

// Len reports the number of calibrated channels.
func (t *Table) Len() int {
	return len(t.offsets)
}

// Offset returns the offset for channel ch. Channels are validated before
// they reach the table, so an out-of-range ch panics.
func (t *Table) Offset(ch int) int {
	if ch < 0 || ch >= len(t.offsets) {
		panic(fmt.Sprintf("calibration: channel %d out of range [0, %d)", ch, len(t.offsets)))
	}
	return t.offsets[ch]
}

// Lookup returns the offset for ch and whether the channel is calibrated.
func (t *Table) Lookup(ch int) (int, bool) {
	if ch < 0 || ch >= len(t.offsets) {
		return 0, false
	}
	return t.offsets[ch], true
}

// Offsets returns a copy of the table contents.
func (t *Table) Offsets() []int {
	out := make([]int, len(t.offsets))
	copy(out, t.offsets)
	return out
}
