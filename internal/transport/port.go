// Package transport carries encoded servo packets to the controller. The
// protocol is write-only: nothing is ever read back from the device.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/servoshow/internal/httputil"
	"github.com/banshee-data/servoshow/internal/protocol"
)

var (
	ErrShortWrite = errors.New("short write to serial port")
	ErrPacketSize = fmt.Errorf("packet must be %d bytes", protocol.PacketSize)
	ErrClosed     = errors.New("transport closed")
)

// SerialPorter is the minimal device handle the transport needs. It enables
// unit testing without real serial hardware.
type SerialPorter interface {
	io.Writer
	io.Closer
}

// Sink accepts fixed-size packets for transmission.
type Sink interface {
	// WritePacket writes one complete packet or returns an error.
	WritePacket(pkt []byte) error
	// Close releases the underlying device. It is safe to call twice.
	Close() error
}

// drainer is implemented by go.bug.st/serial ports; Drain blocks until the
// OS has pushed every queued byte onto the wire.
type drainer interface {
	Drain() error
}

// Stats counts traffic through a Port.
type Stats struct {
	Packets   int64     `json:"packets"`
	Bytes     int64     `json:"bytes"`
	Errors    int64     `json:"errors"`
	LastWrite time.Time `json:"last_write"`
	Closed    bool      `json:"closed"`
}

// Port is a Sink over any SerialPorter.
type Port[T SerialPorter] struct {
	port T

	mu     sync.Mutex
	closed bool
	stats  Stats
}

// NewPort wraps port as a Sink.
func NewPort[T SerialPorter](port T) *Port[T] {
	return &Port[T]{port: port}
}

// WritePacket writes pkt in a single Write call and, when the device supports
// it, waits for the bytes to drain.
func (p *Port[T]) WritePacket(pkt []byte) error {
	if len(pkt) != protocol.PacketSize {
		return fmt.Errorf("%w: got %d", ErrPacketSize, len(pkt))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	n, err := p.port.Write(pkt)
	if err == nil && n != len(pkt) {
		err = fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(pkt))
	}
	if err == nil {
		if d, ok := any(p.port).(drainer); ok {
			err = d.Drain()
		}
	}
	if err != nil {
		p.stats.Errors++
		return err
	}

	p.stats.Packets++
	p.stats.Bytes += int64(n)
	p.stats.LastWrite = time.Now()
	return nil
}

// Close closes the underlying device once.
func (p *Port[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.stats.Closed = true
	return p.port.Close()
}

// Stats returns a snapshot of the traffic counters.
func (p *Port[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// AttachAdminRoutes exposes the traffic counters at /debug/serial. Like all
// tsweb debug pages it is only reachable from loopback or the tailnet.
func (p *Port[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial", "servo link packet counters", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSONOK(w, p.Stats())
	})
}
