package transport

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/servoshow/internal/protocol"
)

// TestablePort implements SerialPorter with configurable behaviour for
// testing. It captures everything written and can inject failures.
type TestablePort struct {
	mu sync.Mutex

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// WriteLatency adds a delay to each Write call
	WriteLatency time.Duration

	// WriteError is returned by the next Write call if set
	WriteError error

	// FailAfter, when positive, makes every Write after that many successful
	// writes return FailError.
	FailAfter int
	FailError error

	// ShortWrite makes Write report one byte fewer than requested
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// CloseCalls records the number of Close calls
	CloseCalls int
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	return &TestablePort{WriteBuffer: bytes.NewBuffer(nil)}
}

// Write appends p to the write buffer, optionally simulating latency and errors.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	if t.FailAfter > 0 && t.WriteCalls > t.FailAfter {
		return 0, t.FailError
	}

	if t.WriteLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.WriteLatency)
		t.mu.Lock()
	}

	if t.ShortWrite && len(p) > 0 {
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.CloseCalls++
	return t.CloseError
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestablePort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// Packets decodes the captured bytes as consecutive protocol packets.
// Trailing bytes that do not form a whole packet are ignored.
func (t *TestablePort) Packets() ([]protocol.Packet, error) {
	data := t.GetWrittenData()
	var out []protocol.Packet
	for len(data) >= protocol.PacketSize {
		p, err := protocol.Decode(data[:protocol.PacketSize])
		if err != nil {
			return out, err
		}
		out = append(out, p)
		data = data[protocol.PacketSize:]
	}
	return out, nil
}

// Reset clears all buffers and resets state.
func (t *TestablePort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteBuffer.Reset()
	t.WriteCalls = 0
	t.CloseCalls = 0
	t.Closed = false
	t.WriteError = nil
	t.FailAfter = 0
	t.FailError = nil
	t.ShortWrite = false
	t.CloseError = nil
	t.WriteLatency = 0
}
