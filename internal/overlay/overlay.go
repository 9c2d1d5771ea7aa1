// Package overlay draws the HUD (circle, marker dot, target dot, text)
// onto a captured frame and JPEG-encodes the result (C5).
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"fmt"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/steadyscript/steadyscript/pkg/types"
)

// JpegQuality is fixed at 80 per spec §4.5.
const JpegQuality = 80

var (
	colorGreen = color.RGBA{0, 200, 0, 255}
	colorRed   = color.RGBA{220, 0, 0, 255}
	colorCyan  = color.RGBA{0, 180, 220, 255}
	colorWhite = color.RGBA{255, 255, 255, 255}
)

// Extras carries the mode-specific elements Render needs beyond the raw
// observation and session snapshot.
type Extras struct {
	Connected     bool
	Mode          types.Mode
	State         types.SessionState
	Observation   types.MarkerObservation
	Calibration   *types.Calibration
	Inside        bool
	Elapsed       float64
	Remaining     float64
	TargetPos     *types.Point
	Bpm           int
	BeatCount     int
	FinalScore    *float64
	ShowFinalFor  bool // true for ~1s after COMPLETE
}

// Render draws the HUD onto frame and returns a quality-80 JPEG buffer.
func Render(frame types.Frame, ex Extras) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	draw.Draw(img, img.Bounds(), &frameSource{frame}, image.Point{}, draw.Src)

	drawStatusDot(img, ex.Connected)
	drawText(img, 10, 20, string(ex.Mode), colorWhite)

	if ex.Observation.Detected && ex.Observation.Position != nil {
		markerColor := colorCyan
		drawFilledCircle(img, *ex.Observation.Position, 5, markerColor)
	}

	if ex.Mode == types.ModeHold && ex.Calibration != nil {
		c := ex.Calibration.Center
		ringColor := colorRed
		if ex.Inside {
			ringColor = colorGreen
		}
		drawRing(img, c, ex.Calibration.Radius, ringColor)
		if ex.State == types.StateRunning {
			drawText(img, 10, 40, fmt.Sprintf("remaining: %.1fs", ex.Remaining), colorWhite)
		}
	}

	if ex.Mode == types.ModeFollow && ex.State == types.StateRunning && ex.TargetPos != nil {
		drawFilledCircle(img, *ex.TargetPos, 8, colorWhite)
		drawText(img, 10, 40, fmt.Sprintf("bpm: %d  beat: %d", ex.Bpm, ex.BeatCount), colorWhite)
	}

	if ex.State == types.StateComplete && ex.ShowFinalFor && ex.FinalScore != nil {
		drawText(img, frame.Width/2-40, frame.Height/2, fmt.Sprintf("score: %.0f", *ex.FinalScore), colorWhite)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JpegQuality}); err != nil {
		return nil, fmt.Errorf("overlay: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// frameSource adapts a types.Frame's raw RGBA buffer to image.Image.
type frameSource struct {
	f types.Frame
}

func (s *frameSource) ColorModel() color.Model { return color.RGBAModel }
func (s *frameSource) Bounds() image.Rectangle { return image.Rect(0, 0, s.f.Width, s.f.Height) }
func (s *frameSource) At(x, y int) color.Color {
	idx := (y*s.f.Width + x) * 4
	if idx+3 >= len(s.f.Pix) {
		return color.RGBA{}
	}
	return color.RGBA{s.f.Pix[idx], s.f.Pix[idx+1], s.f.Pix[idx+2], s.f.Pix[idx+3]}
}

func drawStatusDot(img *image.RGBA, connected bool) {
	c := colorRed
	if connected {
		c = colorGreen
	}
	drawFilledCircle(img, types.Point{X: img.Bounds().Dx() - 12, Y: 12}, 5, c)
}

func drawFilledCircle(img *image.RGBA, center types.Point, radius int, c color.Color) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setIfInBounds(img, center.X+dx, center.Y+dy, c)
			}
		}
	}
}

// drawRing draws a 2px-thick unfilled circle outline.
func drawRing(img *image.RGBA, center types.Point, radius float64, c color.Color) {
	const thickness = 2.0
	r2 := radius * radius
	rInner := (radius - thickness) * (radius - thickness)
	ri := int(radius) + 1
	for dy := -ri; dy <= ri; dy++ {
		for dx := -ri; dx <= ri; dx++ {
			d2 := float64(dx*dx + dy*dy)
			if d2 <= r2 && d2 >= rInner {
				setIfInBounds(img, center.X+dx, center.Y+dy, c)
			}
		}
	}
}

func setIfInBounds(img *image.RGBA, x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= img.Bounds().Dx() || y >= img.Bounds().Dy() {
		return
	}
	img.Set(x, y, c)
}

func drawText(img *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
