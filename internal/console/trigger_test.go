package console

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/servoshow/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// drain polls k until the reader is finished and every buffered key has been
// consumed.
func drain(t *testing.T, k *KeyTrigger) []Event {
	t.Helper()
	select {
	case <-k.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("key reader did not finish")
	}
	var events []Event
	for len(k.keys) > 0 {
		events = append(events, k.Poll())
	}
	return events
}

func TestKeyTrigger_AnyKeyStarts(t *testing.T) {
	k := NewKeyTrigger(strings.NewReader("x\nq"), KeyOptions{})
	assert.Equal(t, []Event{Start, Start, Quit}, drain(t, k))
	assert.Equal(t, None, k.Poll(), "no pending keys")
	assert.NoError(t, k.Err())
}

func TestKeyTrigger_SpecificKeys(t *testing.T) {
	k := NewKeyTrigger(strings.NewReader("abs\x03x"), KeyOptions{StartKey: 's', QuitKey: 'x'})
	assert.Equal(t, []Event{None, None, Start, Quit, Quit}, drain(t, k))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestKeyTrigger_ReadError(t *testing.T) {
	k := NewKeyTrigger(failingReader{}, KeyOptions{})
	assert.Empty(t, drain(t, k))
	assert.EqualError(t, k.Err(), "tty gone")
}

func TestKeyTrigger_PollDoesNotBlock(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	k := NewKeyTrigger(pr, KeyOptions{})

	assert.Equal(t, None, k.Poll())

	_, err := pw.Write([]byte("g"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(k.keys) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Start, k.Poll())
}

func TestImmediate(t *testing.T) {
	tr := Immediate()
	assert.Equal(t, Start, tr.Poll())
	assert.Equal(t, None, tr.Poll())
}

func TestContextTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := ContextTrigger(ctx)
	assert.Equal(t, None, tr.Poll())
	cancel()
	assert.Equal(t, Quit, tr.Poll())
}

func TestMultiTrigger(t *testing.T) {
	fixed := func(ev Event) Trigger { return TriggerFunc(func() Event { return ev }) }

	tests := []struct {
		name string
		m    MultiTrigger
		want Event
	}{
		{"empty", MultiTrigger{}, None},
		{"all none", MultiTrigger{fixed(None), fixed(None)}, None},
		{"start", MultiTrigger{fixed(None), fixed(Start)}, Start},
		{"quit wins", MultiTrigger{fixed(Start), fixed(Quit)}, Quit},
		{"nil skipped", MultiTrigger{nil, fixed(Start)}, Start},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.Poll())
		})
	}
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "start", Start.String())
	assert.Equal(t, "quit", Quit.String())
	assert.Equal(t, "unknown", Event(9).String())
}
