package session

import (
	"testing"
	"time"

	"github.com/steadyscript/steadyscript/pkg/types"
)

func newTestController() *Controller {
	c := New(types.Point{X: 320, Y: 240})
	clock := time.Now()
	c.now = func() time.Time { return clock }
	return c
}

func advance(c *Controller, d time.Duration) {
	clock := c.now().Add(d)
	c.now = func() time.Time { return clock }
}

func TestSessionStartRequiresDetectedMarker(t *testing.T) {
	c := newTestController()
	c.calibration = &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 20}

	if err := c.SessionStart(); err == nil {
		t.Fatal("expected error starting without a detected marker")
	}
	if c.State() != types.StateIdle {
		t.Fatalf("state = %v, want IDLE", c.State())
	}
}

func TestHoldSessionRequiresCalibration(t *testing.T) {
	c := newTestController()
	c.Tick(types.MarkerObservation{Detected: true, Position: &types.Point{X: 320, Y: 240}}, 0)

	if err := c.SessionStart(); err == nil {
		t.Fatal("expected error starting HOLD without calibration")
	}
}

func TestPerfectHoldSession(t *testing.T) {
	c := newTestController()
	c.calibration = &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 20}
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)

	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}

	for i := 0; i < 300; i++ {
		advance(c, time.Millisecond*33)
		c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	}

	advance(c, 11*time.Second)
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)

	if c.State() != types.StateComplete {
		t.Fatalf("state = %v, want COMPLETE", c.State())
	}
	rec := c.LastRecord()
	if rec == nil {
		t.Fatal("expected a finalized SessionRecord")
	}
	if rec.FramesMarkerFound != rec.FramesTotal {
		t.Errorf("FramesMarkerFound=%d FramesTotal=%d, want equal", rec.FramesMarkerFound, rec.FramesTotal)
	}
	if *rec.InsideCirclePct != 100.0 {
		t.Errorf("InsideCirclePct = %v, want 100", *rec.InsideCirclePct)
	}
	if rec.TremorScore < 95 {
		t.Errorf("TremorScore = %v, want >= 95", rec.TremorScore)
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	c := newTestController()
	c.calibration = &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 20}
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}

	c.SessionStop()
	if c.State() != types.StateComplete {
		t.Fatalf("state = %v, want COMPLETE", c.State())
	}
	c.SessionStop() // second call must be a no-op
	if c.State() != types.StateComplete {
		t.Fatalf("state after second stop = %v, want COMPLETE", c.State())
	}
}

func TestSessionStartDuringRunningIsNoOp(t *testing.T) {
	c := newTestController()
	c.calibration = &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 20}
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}
	startedAt := c.startedAt
	if err := c.SessionStart(); err != nil {
		t.Fatalf("second SessionStart() error = %v", err)
	}
	if !c.startedAt.Equal(startedAt) {
		t.Error("second SessionStart() should not reset startedAt")
	}
}

func TestCalibrationTwoClickSequence(t *testing.T) {
	c := newTestController()
	if err := c.CalibrationClick(types.Point{X: 100, Y: 100}); err != nil {
		t.Fatalf("first click error = %v", err)
	}
	if c.calibration == nil || c.calibration.Radius != 0 {
		t.Fatal("expected center set, radius still zero after first click")
	}
	if err := c.CalibrationClick(types.Point{X: 120, Y: 100}); err != nil {
		t.Fatalf("second click error = %v", err)
	}
	if c.calibration.Radius != 20 {
		t.Errorf("radius = %v, want 20", c.calibration.Radius)
	}
	// third click restarts
	if err := c.CalibrationClick(types.Point{X: 200, Y: 200}); err != nil {
		t.Fatalf("third click error = %v", err)
	}
	if c.calibration.Radius != 0 || c.calibration.Center.X != 200 {
		t.Error("expected third click to restart calibration")
	}
}

func TestBpmChangeClamps(t *testing.T) {
	c := newTestController()
	if err := c.BpmChange(-1000); err != nil {
		t.Fatalf("BpmChange error = %v", err)
	}
	if c.Bpm() != minBpm {
		t.Errorf("Bpm() = %d, want %d", c.Bpm(), minBpm)
	}
	if err := c.BpmChange(10000); err != nil {
		t.Fatalf("BpmChange error = %v", err)
	}
	if c.Bpm() != maxBpm {
		t.Errorf("Bpm() = %d, want %d", c.Bpm(), maxBpm)
	}
}

func TestFollowBeatCount(t *testing.T) {
	c := newTestController()
	c.ModeSwitch(types.ModeFollow)
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}

	const tick = time.Millisecond * 33
	elapsed := time.Duration(0)
	for elapsed < 20*time.Second {
		advance(c, tick)
		elapsed += tick
		c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	}
	advance(c, time.Second)
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)

	rec := c.LastRecord()
	if rec == nil {
		t.Fatal("expected finalized record")
	}
	if *rec.BeatsTotal < 19 || *rec.BeatsTotal > 21 {
		t.Errorf("BeatsTotal = %d, want in [19,21]", *rec.BeatsTotal)
	}
}

func TestDegenerateHoldSessionScoresZero(t *testing.T) {
	c := newTestController()
	c.calibration = &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 20}
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		advance(c, 100*time.Millisecond)
		c.Tick(types.MarkerObservation{Detected: false}, 0)
	}
	c.SessionStop()

	rec := c.LastRecord()
	if rec.FramesMarkerFound != 0 {
		t.Fatalf("FramesMarkerFound = %d, want 0", rec.FramesMarkerFound)
	}
	if rec.TremorScore != 0 {
		t.Errorf("TremorScore = %v, want 0", rec.TremorScore)
	}
	if *rec.InsideCirclePct != 0 {
		t.Errorf("InsideCirclePct = %v, want 0", *rec.InsideCirclePct)
	}
}

func TestHueWrapNotApplicable(t *testing.T) {
	// HSV hue-wrap handling lives in internal/detect's buildMask; session
	// package only consumes MarkerObservation and is agnostic to how it was
	// produced.
	t.Skip("hue wrap is handled by internal/detect")
}

func TestSessionStartCapturesActiveHsv(t *testing.T) {
	c := newTestController()
	c.calibration = &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 20}
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)

	c.SetActiveHsv(types.HsvRange{HLo: 0, HHi: 10, SLo: 100, SHi: 255, VLo: 100, VHi: 255})
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}
	c.SessionStop()

	rec := c.LastRecord()
	if rec == nil {
		t.Fatal("expected finalized record")
	}
	wantLower := [3]int{0, 100, 100}
	wantUpper := [3]int{10, 255, 255}
	if rec.HsvLower != wantLower {
		t.Errorf("HsvLower = %v, want %v", rec.HsvLower, wantLower)
	}
	if rec.HsvUpper != wantUpper {
		t.Errorf("HsvUpper = %v, want %v", rec.HsvUpper, wantUpper)
	}
}

func TestLiveFollowFeedbackUsesRollingWindow(t *testing.T) {
	c := newTestController()
	c.ModeSwitch(types.ModeFollow)
	pos := types.Point{X: 320, Y: 240}
	c.Tick(types.MarkerObservation{Detected: true, Position: &pos}, 0)
	if err := c.SessionStart(); err != nil {
		t.Fatalf("SessionStart() error = %v", err)
	}

	const tick = time.Millisecond * 33
	// First stretch of wildly off-target frames, long enough to have aged
	// out of the rolling 30-entry window by the time we snapshot.
	wild := types.Point{X: 0, Y: 0}
	for i := 0; i < 100; i++ {
		advance(c, tick)
		c.Tick(types.MarkerObservation{Detected: true, Position: &wild}, 0)
	}
	// Settle near the target path for long enough to fully flush the
	// rolling 30-entry window of the wild stretch: the live snapshot
	// should reflect only this recent, well-tracked run.
	for i := 0; i < 40; i++ {
		advance(c, tick)
		target := c.TargetPosition(c.Elapsed())
		c.Tick(types.MarkerObservation{Detected: true, Position: &target}, 0)
	}

	snap := c.Snapshot(0, 0)
	if snap.P95Lateral == nil {
		t.Fatal("expected P95Lateral to be set in FOLLOW mode")
	}
	if *snap.P95Lateral > followGoodThreshold {
		t.Errorf("P95Lateral = %v, want <= %v once the window has aged past the wild stretch",
			*snap.P95Lateral, followGoodThreshold)
	}
	if snap.FeedbackStatus != types.FeedbackGood {
		t.Errorf("FeedbackStatus = %v, want good", snap.FeedbackStatus)
	}
}
