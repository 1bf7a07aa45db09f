package console

import (
	"bufio"
	"errors"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/banshee-data/servoshow/internal/monitoring"
)

// ctrlC arrives as a plain byte once the terminal is in raw mode, because the
// line discipline no longer turns it into SIGINT.
const ctrlC = 0x03

// KeyOptions selects which keystrokes map to which events.
type KeyOptions struct {
	// StartKey starts playback. Zero means any key other than QuitKey.
	StartKey byte

	// QuitKey stops playback. Defaults to 'q'.
	QuitKey byte
}

// KeyTrigger reads single keystrokes from a reader on a background goroutine
// and hands them to Poll without blocking.
type KeyTrigger struct {
	opts KeyOptions
	keys chan byte
	done chan struct{}
	err  error
}

// NewKeyTrigger starts reading from r. The reader goroutine exits at EOF or
// on the first read error; a blocked read on a terminal lives until the
// process exits.
func NewKeyTrigger(r io.Reader, opts KeyOptions) *KeyTrigger {
	if opts.QuitKey == 0 {
		opts.QuitKey = 'q'
	}
	k := &KeyTrigger{
		opts: opts,
		keys: make(chan byte, 16),
		done: make(chan struct{}),
	}
	go k.read(bufio.NewReader(r))
	return k
}

func (k *KeyTrigger) read(r io.ByteReader) {
	defer close(k.done)
	for {
		b, err := r.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				k.err = err
				monitoring.Logf("console: key reader stopped: %v", err)
			}
			return
		}
		k.keys <- b
	}
}

// Poll consumes at most one pending keystroke.
func (k *KeyTrigger) Poll() Event {
	select {
	case b := <-k.keys:
		return k.classify(b)
	default:
		return None
	}
}

func (k *KeyTrigger) classify(b byte) Event {
	switch {
	case b == k.opts.QuitKey || b == ctrlC:
		return Quit
	case k.opts.StartKey == 0 || b == k.opts.StartKey:
		return Start
	}
	return None
}

// Done is closed once the reader has hit EOF or an error.
func (k *KeyTrigger) Done() <-chan struct{} { return k.done }

// Err returns the read error that stopped the reader, if any. It is only
// meaningful after Done is closed.
func (k *KeyTrigger) Err() error {
	select {
	case <-k.done:
		return k.err
	default:
		return nil
	}
}

// MakeRaw switches f into raw mode when it is a terminal so keystrokes arrive
// without waiting for Enter. The returned function restores the previous mode
// and is a no-op when f is not a terminal.
func MakeRaw(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, err
	}
	return func() {
		if err := term.Restore(fd, state); err != nil {
			monitoring.Logf("console: failed to restore terminal: %v", err)
		}
	}, nil
}
