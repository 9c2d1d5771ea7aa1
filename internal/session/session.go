// Package session implements the session controller (C4): the
// IDLE/RUNNING/COMPLETE state machine, HOLD/FOLLOW mode aggregation, the
// FOLLOW target-path generator, and the command dispatch table of spec §4.4.
package session

import (
	"math"
	"time"

	"github.com/steadyscript/steadyscript/internal/smoother"
	"github.com/steadyscript/steadyscript/pkg/types"
)

const (
	holdDurationS   = 10.0
	followDurationS = 20.0

	defaultBpm = 60
	minBpm     = 30
	maxBpm     = 180

	followTargetRadius = 120.0 // px

	stableScoreThreshold  = 80.0
	warningScoreThreshold = 50.0

	followGoodThreshold    = 8.0
	followWarningThreshold = 15.0

	// lateralJitterWindowSize is the rolling buffer size backing the live
	// p95_lateral_jitter/feedback_status snapshot, per spec §4.4.
	lateralJitterWindowSize = 30
)

// sample is one per-frame record kept while RUNNING.
type sample struct {
	t             float64 // seconds since session start
	position      *types.Point
	jitter        float64
	insideCircle  bool
	lateralJitter *float64
}

// Controller owns the single live Session and dispatches control commands.
// Not safe for concurrent use from multiple goroutines without external
// synchronization — spec §5 assigns it to exactly one pipeline task.
type Controller struct {
	state types.SessionState
	mode  types.Mode

	startedAt   time.Time
	duration    float64
	calibration *types.Calibration
	bpm         int
	beatsElapsed int
	lastBeatIdx  int

	frameCenter types.Point

	samples []sample

	framesTotal       int
	framesMarkerFound int
	framesInside      int

	// latJitterWindow is the rolling last-30 lateral-jitter buffer backing
	// the live FOLLOW snapshot (spec §4.4); buildRecord aggregates over the
	// full session's samples instead.
	latJitterWindow []float64

	activeHsv types.HsvRange // detector's currently active range, refreshed every tick
	hsvUsed   types.HsvRange // range captured at the most recent SessionStart (spec §3)

	lastObservation types.MarkerObservation
	lastRecord      *types.SessionRecord

	now func() time.Time
}

// New creates a Controller in IDLE/HOLD with the given frame center (used
// as the FOLLOW target path's C_target per spec §9's open-question default).
func New(frameCenter types.Point) *Controller {
	return &Controller{
		state:       types.StateIdle,
		mode:        types.ModeHold,
		bpm:         defaultBpm,
		frameCenter: frameCenter,
		now:         time.Now,
	}
}

// SetActiveHsv records the detector's currently active HSV range so it can
// be captured as hsv_used the next time a session starts (spec §3).
func (c *Controller) SetActiveHsv(r types.HsvRange) {
	c.activeHsv = r
}

// State returns the current session state.
func (c *Controller) State() types.SessionState { return c.state }

// Mode returns the current exercise mode.
func (c *Controller) Mode() types.Mode { return c.mode }

// Calibration returns the current HOLD calibration, if any.
func (c *Controller) Calibration() *types.Calibration { return c.calibration }

// Bpm returns the current FOLLOW BPM.
func (c *Controller) Bpm() int { return c.bpm }

// CommandError is returned for control messages rejected per spec §7's
// InvalidControl error kind; the duplex channel replies with an "error"
// message and the session state is left unchanged.
type CommandError struct {
	Reason string
}

func (e *CommandError) Error() string { return e.Reason }

// ModeSwitch handles mode_switch(m): allowed only when not RUNNING.
func (c *Controller) ModeSwitch(m types.Mode) error {
	if c.state == types.StateRunning {
		return &CommandError{Reason: "cannot switch mode while RUNNING"}
	}
	c.mode = m
	c.lastRecord = nil
	if m == types.ModeFollow {
		c.calibration = nil
	}
	return nil
}

// SessionStart handles session_start: requires IDLE (or implicit COMPLETE->IDLE
// dismiss) and a currently detected marker; HOLD additionally requires a
// valid calibration.
func (c *Controller) SessionStart() error {
	if c.state == types.StateRunning {
		return nil // no-op per spec §8 idempotence
	}
	if !c.lastObservation.Detected {
		return &CommandError{Reason: "marker not detected"}
	}
	if c.mode == types.ModeHold && (c.calibration == nil || c.calibration.Radius <= 0) {
		return &CommandError{Reason: "HOLD session requires calibration"}
	}

	c.state = types.StateRunning
	c.startedAt = c.now()
	c.duration = holdDurationS
	if c.mode == types.ModeFollow {
		c.duration = followDurationS
	}
	c.samples = nil
	c.framesTotal = 0
	c.framesMarkerFound = 0
	c.framesInside = 0
	c.beatsElapsed = 0
	c.lastBeatIdx = 0
	c.latJitterWindow = nil
	c.hsvUsed = c.activeHsv
	c.lastRecord = nil
	return nil
}

// SessionStop handles session_stop: finalizes as if duration elapsed.
// Idempotent: a second call while not RUNNING is silently ignored.
func (c *Controller) SessionStop() {
	if c.state != types.StateRunning {
		return
	}
	c.finalize()
}

// Dismiss handles the explicit COMPLETE -> IDLE transition.
func (c *Controller) Dismiss() error {
	if c.state != types.StateComplete {
		return &CommandError{Reason: "dismiss only valid from COMPLETE"}
	}
	c.state = types.StateIdle
	return nil
}

// CalibrationClick handles calibration_click(x,y): valid only in HOLD,
// not RUNNING. First click sets the center; the next sets the radius. A
// third click restarts the two-step sequence.
func (c *Controller) CalibrationClick(p types.Point) error {
	if c.mode != types.ModeHold {
		return &CommandError{Reason: "calibration only valid in HOLD mode"}
	}
	if c.state == types.StateRunning {
		return &CommandError{Reason: "cannot calibrate while RUNNING"}
	}

	if c.calibration == nil {
		c.calibration = &types.Calibration{Center: p}
		return nil
	}
	if c.calibration.Radius == 0 {
		dx := float64(p.X - c.calibration.Center.X)
		dy := float64(p.Y - c.calibration.Center.Y)
		c.calibration.Radius = math.Hypot(dx, dy)
		return nil
	}
	// third click: restart
	c.calibration = &types.Calibration{Center: p}
	return nil
}

// BpmChange handles bpm_change(delta): valid only when not RUNNING; clamps
// into [30, 180].
func (c *Controller) BpmChange(delta int) error {
	if c.state == types.StateRunning {
		return &CommandError{Reason: "cannot change BPM while RUNNING"}
	}
	c.bpm = clampInt(c.bpm+delta, minBpm, maxBpm)
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Elapsed returns seconds since the most recent session started, or 0 if no
// session has started yet. It keeps counting in COMPLETE and in IDLE after a
// session.
func (c *Controller) Elapsed() float64 {
	if c.startedAt.IsZero() {
		return 0
	}
	return c.now().Sub(c.startedAt).Seconds()
}

// TimeRemaining returns max(0, duration - elapsed).
func (c *Controller) TimeRemaining() float64 {
	r := c.duration - c.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// TargetPosition computes T(t): a point circling frameCenter at the
// session's BPM. Angular rate ω = 2π·BPM/60 rad/s.
func (c *Controller) TargetPosition(elapsed float64) types.Point {
	omega := 2 * math.Pi * float64(c.bpm) / 60
	x := float64(c.frameCenter.X) + followTargetRadius*math.Cos(omega*elapsed)
	y := float64(c.frameCenter.Y) + followTargetRadius*math.Sin(omega*elapsed)
	return types.Point{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// Tick advances the session one frame given the current marker observation
// and smoothed jitter reading. Must be called once per pipeline tick while
// RUNNING (and is a no-op otherwise, aside from recording the observation
// for the next session_start's precondition check).
func (c *Controller) Tick(obs types.MarkerObservation, jitterNow float64) {
	c.lastObservation = obs

	if c.state != types.StateRunning {
		return
	}

	elapsed := c.Elapsed()
	if elapsed >= c.duration {
		c.finalize()
		return
	}

	c.framesTotal++
	s := sample{t: elapsed, jitter: jitterNow}

	if obs.Detected {
		c.framesMarkerFound++
		s.position = obs.Position

		if c.mode == types.ModeHold {
			if c.calibration != nil {
				d := math.Hypot(float64(obs.Position.X-c.calibration.Center.X), float64(obs.Position.Y-c.calibration.Center.Y))
				s.insideCircle = d <= c.calibration.Radius
				if s.insideCircle {
					c.framesInside++
				}
			}
		} else {
			lat := c.lateralJitter(*obs.Position, elapsed)
			s.lateralJitter = &lat

			c.latJitterWindow = append(c.latJitterWindow, lat)
			if len(c.latJitterWindow) > lateralJitterWindowSize {
				c.latJitterWindow = c.latJitterWindow[1:]
			}
		}
	}

	c.samples = append(c.samples, s)

	if c.mode == types.ModeFollow {
		beatIdx := int(elapsed * float64(c.bpm) / 60)
		if beatIdx > c.lastBeatIdx {
			c.beatsElapsed += beatIdx - c.lastBeatIdx
			c.lastBeatIdx = beatIdx
		}
	}
}

// lateralJitter projects the marker's deviation from the target path onto
// the perpendicular of the path's instantaneous tangent direction at t,
// per spec §4.4.
func (c *Controller) lateralJitter(pos types.Point, t float64) float64 {
	const dt = 1.0 / 60.0
	p0 := c.TargetPosition(t - dt)
	p1 := c.TargetPosition(t + dt)
	tx := float64(p1.X - p0.X)
	ty := float64(p1.Y - p0.Y)
	tlen := math.Hypot(tx, ty)
	if tlen == 0 {
		return 0
	}
	tx, ty = tx/tlen, ty/tlen

	target := c.TargetPosition(t)
	dx := float64(pos.X - target.X)
	dy := float64(pos.Y - target.Y)

	// perpendicular component: |d| projected onto the normal of (tx,ty)
	nx, ny := -ty, tx
	lat := dx*nx + dy*ny
	return math.Abs(lat)
}

func (c *Controller) finalize() {
	c.state = types.StateComplete
	c.lastRecord = c.buildRecord()
}

// LastRecord returns the finalized SessionRecord after a COMPLETE
// transition, or nil if none is pending.
func (c *Controller) LastRecord() *types.SessionRecord {
	return c.lastRecord
}

func (c *Controller) buildRecord() *types.SessionRecord {
	jitters := make([]float64, 0, len(c.samples))
	laterals := make([]float64, 0, len(c.samples))
	for _, s := range c.samples {
		if s.position == nil {
			continue
		}
		jitters = append(jitters, s.jitter)
		if s.lateralJitter != nil {
			laterals = append(laterals, *s.lateralJitter)
		}
	}

	rec := &types.SessionRecord{
		Timestamp:         c.now().UTC(),
		Type:              c.mode,
		DurationS:         c.duration,
		HsvLower:          [3]int{c.hsvUsed.HLo, c.hsvUsed.SLo, c.hsvUsed.VLo},
		HsvUpper:          [3]int{c.hsvUsed.HHi, c.hsvUsed.SHi, c.hsvUsed.VHi},
		FramesTotal:       c.framesTotal,
		FramesMarkerFound: c.framesMarkerFound,
	}

	if c.mode == types.ModeHold {
		avg := meanOf(jitters)
		p95 := smoother.Percentile(jitters, 0.95)
		score := holdScore(p95, c.framesMarkerFound)
		pct := 0.0
		if c.framesTotal > 0 {
			pct = 100 * float64(c.framesInside) / float64(c.framesTotal)
		}
		rec.TremorScore = score
		rec.AvgJitter = &avg
		rec.P95Jitter = &p95
		rec.InsideCirclePct = &pct
		if c.calibration != nil {
			center := c.calibration.Center
			radius := c.calibration.Radius
			rec.CircleCenter = &center
			rec.CircleRadius = &radius
		}
	} else {
		avg := meanOf(laterals)
		p95 := smoother.Percentile(laterals, 0.95)
		maxLat := maxOf(laterals)
		score := followScore(p95, c.framesMarkerFound)
		beats := c.beatsElapsed

		rec.TremorScore = score
		rec.AvgLateralJitter = &avg
		rec.P95LateralJitter = &p95
		rec.MaxLateralJitter = &maxLat
		rec.BeatsTotal = &beats
	}

	return rec
}

// holdScore implements spec §4.4's degenerate-case convention: an entirely
// undetected session scores 0, not the 100 the raw formula would degenerate
// to with p95=0.
func holdScore(p95Jitter float64, framesMarkerFound int) float64 {
	if framesMarkerFound == 0 {
		return 0
	}
	return math.Max(0, 100-5*p95Jitter)
}

func followScore(p95Lateral float64, framesMarkerFound int) float64 {
	if framesMarkerFound == 0 {
		return 0
	}
	return math.Max(0, 100-5*p95Lateral)
}

// StabilityLevel classifies a HOLD score per spec §4.4's thresholds.
func StabilityLevel(score float64) types.StabilityLevel {
	switch {
	case score >= stableScoreThreshold:
		return types.StabilityStable
	case score >= warningScoreThreshold:
		return types.StabilityWarning
	default:
		return types.StabilityUnstable
	}
}

// FeedbackStatusFor classifies a FOLLOW p95 lateral jitter per spec §4.4's
// thresholds.
func FeedbackStatusFor(p95Lateral float64) types.FeedbackStatus {
	switch {
	case p95Lateral <= followGoodThreshold:
		return types.FeedbackGood
	case p95Lateral <= followWarningThreshold:
		return types.FeedbackWarning
	default:
		return types.FeedbackPoor
	}
}

// Snapshot builds the per-tick MetricsSnapshot for the duplex channel
// (spec §4.6), given the latest jitter readings from the smoother.
func (c *Controller) Snapshot(jitterNow, p95Jitter float64) types.MetricsSnapshot {
	snap := types.MetricsSnapshot{
		Mode:           c.mode,
		MarkerDetected: c.lastObservation.Detected,
		Jitter:         jitterNow,
		P95Jitter:      p95Jitter,
		SessionState:   c.state,
		Elapsed:        c.Elapsed(),
		TimeRemaining:  c.TimeRemaining(),
	}
	if c.lastObservation.Detected {
		snap.Position = c.lastObservation.Position
	}

	if c.mode == types.ModeHold {
		score := holdScore(p95Jitter, c.framesMarkerFound)
		snap.Score = score
		level := StabilityLevel(score)
		snap.StabilityLevel = level
	} else {
		bpm := c.bpm
		beats := c.beatsElapsed
		snap.Bpm = &bpm
		snap.BeatCount = &beats

		p95Lat := smoother.Percentile(c.latJitterWindow, 0.95)
		var lat float64
		if n := len(c.latJitterWindow); n > 0 {
			lat = c.latJitterWindow[n-1]
		}
		snap.LateralJitter = &lat
		snap.P95Lateral = &p95Lat
		snap.FeedbackStatus = FeedbackStatusFor(p95Lat)
		snap.Score = followScore(p95Lat, c.framesMarkerFound)
	}

	return snap
}

func meanOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func maxOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
