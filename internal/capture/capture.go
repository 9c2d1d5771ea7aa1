// Package capture owns the webcam device and publishes frames under a
// "latest frame wins" contract: a slow downstream never blocks the camera
// and never sees a backlog of stale frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/steadyscript/steadyscript/internal/logger"
	"github.com/steadyscript/steadyscript/pkg/types"
)

// ErrDeviceUnavailable is returned when the capture device cannot be opened.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// Device is the narrow hardware contract a Source drives. Implementations
// wrap whatever OS camera API is available; the teacher's own pipeline
// reads frames from shared memory rather than a live camera, so this
// interface is the seam a real V4L2/AVFoundation backend plugs into.
type Device interface {
	Open(index int) error
	// ReadFrame blocks until the next frame is available.
	ReadFrame() (types.Frame, error)
	Close() error
}

// Stats describes Source's cumulative counters.
type Stats struct {
	FramesCaptured uint64
	FramesDropped  uint64
	ReadErrors     uint64
}

// Source runs the capture device on a dedicated goroutine and exposes the
// latest frame via a single-slot overwrite mailbox: Publish never blocks,
// and a slow subscriber only ever sees the newest frame, never a queue of
// old ones.
type Source struct {
	dev Device

	mu       sync.Mutex
	latest   types.Frame
	haveAny  bool
	stats    Stats
	notify   chan struct{}
}

// NewSource wraps dev in a Source. Open must be called before Run.
func NewSource(dev Device) *Source {
	return &Source{dev: dev, notify: make(chan struct{}, 1)}
}

// Open opens the underlying device at the given index. Returns
// ErrDeviceUnavailable, wrapped with the device's own error, on failure —
// spec.md §7 treats this as fatal to the process.
func (s *Source) Open(index int) error {
	if err := s.dev.Open(index); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// Close releases the underlying device.
func (s *Source) Close() error {
	return s.dev.Close()
}

// Run drives the capture loop until ctx is cancelled. Transient read errors
// are logged and the previous frame is retained (spec §7 TransientCapture).
func (s *Source) Run(ctx context.Context) {
	logger.Info("capture", "capture loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("capture", "capture loop stopped")
			return
		default:
		}

		frame, err := s.dev.ReadFrame()
		if err != nil {
			s.mu.Lock()
			s.stats.ReadErrors++
			s.mu.Unlock()
			logger.Warn("capture", "transient read error: %v", err)
			continue
		}

		s.publish(frame)
	}
}

func (s *Source) publish(frame types.Frame) {
	s.mu.Lock()
	if s.haveAny {
		s.stats.FramesDropped++
	}
	s.latest = frame
	s.haveAny = true
	s.stats.FramesCaptured++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Read returns the latest published frame, blocking until at least one
// frame has been captured or ctx is cancelled.
func (s *Source) Read(ctx context.Context) (types.Frame, error) {
	for {
		s.mu.Lock()
		if s.haveAny {
			f := s.latest
			// the frame is not consumed: the next Read may observe the
			// same frame again if no newer one has arrived, matching
			// "latest frame wins".
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		case <-s.notify:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Stats returns a snapshot of cumulative counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
