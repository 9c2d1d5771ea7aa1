package overlay

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/steadyscript/steadyscript/pkg/types"
)

func blankFrame(w, h int) types.Frame {
	return types.Frame{Width: w, Height: h, Pix: make([]byte, w*h*4)}
}

func TestRenderProducesValidJpeg(t *testing.T) {
	frame := blankFrame(640, 480)
	pos := types.Point{X: 320, Y: 240}
	ex := Extras{
		Connected:   true,
		Mode:        types.ModeHold,
		State:       types.StateRunning,
		Observation: types.MarkerObservation{Detected: true, Position: &pos},
		Calibration: &types.Calibration{Center: types.Point{X: 320, Y: 240}, Radius: 50},
		Inside:      true,
		Remaining:   5.2,
	}

	buf, err := Render(frame, ex)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("decode produced jpeg: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Errorf("decoded bounds = %v, want 640x480", img.Bounds())
	}
}

func TestRenderFollowMode(t *testing.T) {
	frame := blankFrame(640, 480)
	target := types.Point{X: 400, Y: 240}
	ex := Extras{
		Mode:      types.ModeFollow,
		State:     types.StateRunning,
		TargetPos: &target,
		Bpm:       60,
		BeatCount: 3,
	}
	if _, err := Render(frame, ex); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
}
