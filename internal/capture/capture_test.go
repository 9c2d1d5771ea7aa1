package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/steadyscript/steadyscript/pkg/types"
)

// fakeDevice yields frames from a queue, or an error if the queue is a
// sentinel error value, simulating transient capture failures.
type fakeDevice struct {
	mu     sync.Mutex
	frames []interface{} // types.Frame or error
	opened bool
	idx    int
}

func (d *fakeDevice) Open(index int) error {
	d.opened = true
	return nil
}

func (d *fakeDevice) Close() error { return nil }

func (d *fakeDevice) ReadFrame() (types.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.frames) {
		return types.Frame{}, errors.New("no more frames")
	}
	item := d.frames[d.idx]
	d.idx++
	switch v := item.(type) {
	case error:
		return types.Frame{}, v
	case types.Frame:
		return v, nil
	default:
		return types.Frame{}, errors.New("bad fixture")
	}
}

type failingOpenDevice struct{}

func (failingOpenDevice) Open(int) error                 { return errors.New("busy") }
func (failingOpenDevice) Close() error                   { return nil }
func (failingOpenDevice) ReadFrame() (types.Frame, error) { return types.Frame{}, nil }

func TestOpenWrapsDeviceUnavailable(t *testing.T) {
	s := NewSource(failingOpenDevice{})
	err := s.Open(0)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Open() error = %v, want wrapping ErrDeviceUnavailable", err)
	}
}

func TestReadReturnsLatestFrame(t *testing.T) {
	dev := &fakeDevice{frames: []interface{}{
		types.Frame{Width: 1}, types.Frame{Width: 2}, types.Frame{Width: 3},
	}}
	s := NewSource(dev)
	ctx, cancel := context.WithCancel(context.Background())

	go s.Run(ctx)

	deadline := time.After(time.Second)
	for {
		f, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if f.Width == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for latest frame")
		default:
		}
	}
	cancel()
}

func TestTransientErrorsDoNotStopCapture(t *testing.T) {
	dev := &fakeDevice{frames: []interface{}{
		errors.New("transient"), types.Frame{Width: 42},
	}}
	s := NewSource(dev)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go s.Run(ctx)

	deadline := time.After(400 * time.Millisecond)
	for {
		f, err := s.Read(ctx)
		if err == nil && f.Width == 42 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("did not recover from transient error; last stats=%+v", s.Stats())
		default:
		}
	}
	if s.Stats().ReadErrors == 0 {
		t.Error("expected ReadErrors > 0 after a transient failure")
	}
}
