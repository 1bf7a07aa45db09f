package transport

import (
	"github.com/banshee-data/servoshow/internal/monitoring"
	"github.com/banshee-data/servoshow/internal/protocol"
)

// DryRunPort stands in for the controller when no hardware is attached. It
// decodes and logs every packet instead of transmitting it.
type DryRunPort struct {
	Logf func(format string, v ...interface{})
}

// NewDryRunPort returns a DryRunPort logging through monitoring.Logf.
func NewDryRunPort() *DryRunPort {
	return &DryRunPort{}
}

func (d *DryRunPort) logf(format string, v ...interface{}) {
	if d.Logf != nil {
		d.Logf(format, v...)
		return
	}
	monitoring.Logf(format, v...)
}

func (d *DryRunPort) Write(p []byte) (int, error) {
	pkt, err := protocol.Decode(p)
	if err != nil {
		d.logf("dry-run: % x (%v)", p, err)
		return len(p), nil
	}
	d.logf("dry-run: % x  %s", p, pkt)
	return len(p), nil
}

func (d *DryRunPort) Close() error { return nil }

// DryRunOpener ignores the path and returns a dry-run Sink.
func DryRunOpener(string, PortOptions) (Sink, error) {
	return NewPort(NewDryRunPort()), nil
}
