// Package led implements the optional LED gateway (C9): a thin sink
// mapping "inside circle?" to a single '0'/'1' byte write over a serial
// port. Absent configuration, or on any connection/write failure, it
// silently becomes a no-op rather than affecting the pipeline.
package led

import (
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/steadyscript/steadyscript/internal/logger"
)

// Gateway writes deduplicated boolean state to a serial device, following
// the original Arduino controller's graceful-disable-on-failure contract.
type Gateway struct {
	mu          sync.Mutex
	port        serial.Port
	connected   bool
	lastState   *bool
	lastErrLog  time.Time

	writeFailures atomic.Uint64
}

// WriteFailures returns the cumulative count of failed serial writes.
func (g *Gateway) WriteFailures() uint64 {
	return g.writeFailures.Load()
}

// Open attempts to connect to the serial device at path. If path is empty,
// it returns a Gateway that is permanently disconnected (a pure no-op
// sink) rather than an error — absent configuration is not a failure.
func Open(path string) *Gateway {
	g := &Gateway{}
	if path == "" {
		return g
	}

	mode := &serial.Mode{BaudRate: 9600}
	port, err := serial.Open(path, mode)
	if err != nil {
		logger.Warn("led", "failed to open serial device %s: %v; LED feedback disabled", path, err)
		return g
	}

	g.port = port
	g.connected = true
	go g.selfTest()
	return g
}

// selfTest blinks the LED on then off once as a human-visible confirmation
// the link is live, matching the original controller's boot behavior.
func (g *Gateway) selfTest() {
	g.writeByte('1')
	time.Sleep(2 * time.Second)
	g.writeByte('0')
}

// Update writes the new boolean state, but only if it differs from the
// last state written (deduplicated per spec §4.4).
func (g *Gateway) Update(inside bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lastState != nil && *g.lastState == inside {
		return
	}
	b := byte('0')
	if inside {
		b = '1'
	}
	g.writeByteLocked(b)
	g.lastState = &inside
}

func (g *Gateway) writeByte(b byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeByteLocked(b)
}

func (g *Gateway) writeByteLocked(b byte) {
	if !g.connected || g.port == nil {
		return
	}
	if _, err := g.port.Write([]byte{b}); err != nil {
		g.writeFailures.Add(1)
		if time.Since(g.lastErrLog) > time.Minute {
			logger.Warn("led", "serial write failed: %v", err)
			g.lastErrLog = time.Now()
		}
	}
}

// Connected reports whether the gateway has a live serial connection.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Close releases the underlying serial port, if any.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.port == nil {
		return nil
	}
	return g.port.Close()
}
