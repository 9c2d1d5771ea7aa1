package led

import "testing"

func TestOpenWithNoPathIsNoOpSink(t *testing.T) {
	g := Open("")
	if g.Connected() {
		t.Fatal("Open(\"\") should not be connected")
	}
	// Update must not panic on a disconnected gateway.
	g.Update(true)
	g.Update(false)
	if err := g.Close(); err != nil {
		t.Fatalf("Close() on no-op gateway error = %v", err)
	}
}

func TestOpenWithBadPathDisablesGracefully(t *testing.T) {
	g := Open("/dev/definitely-not-a-real-serial-port-12345")
	if g.Connected() {
		t.Fatal("expected a nonexistent device path to leave the gateway disconnected")
	}
	g.Update(true) // must not panic
}
