package stream

import (
	"encoding/json"
)

// envelope is the tagged-variant wire shape for every duplex message, both
// directions, per spec §4.6/§9.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FrameMessage is the outbound "frame" payload: a base64 JPEG, the same
// bytes /video_feed serves.
type FrameMessage struct {
	Data string `json:"data"`
}

// ErrorMessage is sent back to the originating client for a rejected
// command (spec §7 InvalidControl).
type ErrorMessage struct {
	Reason string `json:"reason"`
}

// Command is a parsed inbound duplex message, enqueued for the pipeline
// task to apply at the top of its next tick (spec §5: "control messages
// are applied between frames; a frame is never observed in a
// half-applied state").
type Command struct {
	Type   string
	Data   json.RawMessage
	client *Client
}

// Reject sends an "error" reply to the client that issued this command,
// per spec §7's InvalidControl disposition: reply, connection preserved,
// session state unchanged.
func (c *Command) Reject(reason string) {
	if c.client == nil {
		return
	}
	c.client.sendControl("error", ErrorMessage{Reason: reason})
}

// ModeSwitchData is the data payload of a mode_switch command.
type ModeSwitchData struct {
	Mode string `json:"mode"`
}

// CalibrationClickData is the data payload of a calibration_click command.
type CalibrationClickData struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BpmChangeData is the data payload of a bpm_change command.
type BpmChangeData struct {
	Delta int `json:"delta"`
}

// HsvUpdateData is the data payload of an hsv_update command.
type HsvUpdateData struct {
	Lower [3]int `json:"lower"`
	Upper [3]int `json:"upper"`
}
