package transport

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/banshee-data/servoshow/internal/monitoring"
)

// Opener opens a Sink at path. The CLI takes one so tests can substitute a
// TestablePort for the real device.
type Opener func(path string, opts PortOptions) (Sink, error)

// OpenSerial opens the serial device at path and flushes any stale bytes in
// both directions before handing it over.
func OpenSerial(path string, opts PortOptions) (*Port[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", path, err)
	}

	monitoring.Logf("opened servo link %s at %s", path, opts)
	return NewPort[serial.Port](port), nil
}

// SerialOpener adapts OpenSerial to an Opener.
func SerialOpener(path string, opts PortOptions) (Sink, error) {
	return OpenSerial(path, opts)
}
