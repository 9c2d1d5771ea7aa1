// Package types holds data-transfer objects shared across SteadyScript's
// pipeline, transport, and storage packages.
package types

import "time"

// Frame is a transient captured image: never stored past one pipeline tick.
type Frame struct {
	Width, Height int
	Pix           []byte // RGBA pixel buffer (4 bytes per pixel), row-major
	CapturedAt    time.Time
}

// Point is an integer pixel position.
type Point struct {
	X, Y int
}

// MarkerObservation is the result of one detection pass.
// Invariant: Detected == (Position is non-nil).
type MarkerObservation struct {
	Position          *Point
	Detected          bool
	TimestampMonotonic time.Time
}

// HsvRange is six OpenCV-convention HSV bounds. If HLo > HHi, hue wraps:
// the mask is the union of [HLo,179] and [0,HHi].
type HsvRange struct {
	HLo, HHi int
	SLo, SHi int
	VLo, VHi int
}

// Calibration is the HOLD-mode target circle, set by two user clicks.
type Calibration struct {
	Center Point
	Radius float64
}

// Mode is an exercise mode.
type Mode string

const (
	ModeHold   Mode = "HOLD"
	ModeFollow Mode = "FOLLOW"
)

// SessionState is a session controller state.
type SessionState string

const (
	StateIdle     SessionState = "IDLE"
	StateRunning  SessionState = "RUNNING"
	StateComplete SessionState = "COMPLETE"
)

// StabilityLevel is the HOLD-mode qualitative stability bucket.
type StabilityLevel string

const (
	StabilityStable   StabilityLevel = "stable"
	StabilityWarning  StabilityLevel = "warning"
	StabilityUnstable StabilityLevel = "unstable"
)

// FeedbackStatus is the FOLLOW-mode qualitative lateral-jitter bucket.
type FeedbackStatus string

const (
	FeedbackGood    FeedbackStatus = "good"
	FeedbackWarning FeedbackStatus = "warning"
	FeedbackPoor    FeedbackStatus = "poor"
)

// MetricsSnapshot is the per-tick "metrics" duplex-channel payload (spec §4.6).
type MetricsSnapshot struct {
	Mode            Mode           `json:"mode"`
	Position        *Point         `json:"position,omitempty"`
	MarkerDetected  bool           `json:"marker_detected"`
	Jitter          float64        `json:"jitter"`
	P95Jitter       float64        `json:"p95_jitter"`
	LateralJitter   *float64       `json:"lateral_jitter,omitempty"`
	P95Lateral      *float64       `json:"p95_lateral_jitter,omitempty"`
	StabilityLevel  StabilityLevel `json:"stability_level,omitempty"`
	FeedbackStatus  FeedbackStatus `json:"feedback_status,omitempty"`
	Score           float64        `json:"score"`
	SessionState    SessionState   `json:"session_state"`
	TimeRemaining   float64        `json:"time_remaining"`
	Elapsed         float64        `json:"elapsed"`
	Bpm             *int           `json:"bpm,omitempty"`
	BeatCount       *int           `json:"beat_count,omitempty"`
}

// SessionRecord is the persistent, append-only record of one completed
// exercise (spec §6 schema, bit-exact field names).
type SessionRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	Type               Mode      `json:"type"`
	DurationS          float64   `json:"duration_s"`
	HsvLower           [3]int    `json:"hsv_lower"`
	HsvUpper           [3]int    `json:"hsv_upper"`
	TremorScore        float64   `json:"tremor_score"`
	FramesTotal        int       `json:"frames_total"`
	FramesMarkerFound  int       `json:"frames_marker_found"`

	// HOLD only
	CircleCenter     *Point   `json:"circle_center,omitempty"`
	CircleRadius     *float64 `json:"circle_radius,omitempty"`
	AvgJitter        *float64 `json:"avg_jitter,omitempty"`
	P95Jitter        *float64 `json:"p95_jitter,omitempty"`
	InsideCirclePct  *float64 `json:"inside_circle_pct,omitempty"`

	// FOLLOW only
	AvgLateralJitter *float64 `json:"avg_lateral_jitter,omitempty"`
	P95LateralJitter *float64 `json:"p95_lateral_jitter,omitempty"`
	MaxLateralJitter *float64 `json:"max_lateral_jitter,omitempty"`
	BeatsTotal       *int     `json:"beats_total,omitempty"`
}

// TrendLabel is the qualitative direction of recent session scores.
type TrendLabel string

const (
	TrendImproving TrendLabel = "improving"
	TrendDeclining TrendLabel = "declining"
	TrendStable    TrendLabel = "stable"
)

// SessionsResponse is the GET /api/sessions payload.
type SessionsResponse struct {
	Sessions    []SessionRecord `json:"sessions"`
	Trend       TrendLabel      `json:"trend"`
	TrendPercent float64        `json:"trendPercent"`
}
