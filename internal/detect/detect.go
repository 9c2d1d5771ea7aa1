// Package detect implements the marker detector (C2): HSV thresholding,
// morphological cleanup, connected-component extraction, and centroid
// computation, grounded on the original backend's detect_marker() pipeline.
package detect

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/disintegration/gift"
	"github.com/harrydb/go/img/grayscale"

	"github.com/steadyscript/steadyscript/internal/logger"
	"github.com/steadyscript/steadyscript/pkg/types"
)

const (
	// MinContourArea is the minimum connected-component size, in pixels,
	// to be considered a marker candidate rather than speckle.
	MinContourArea = 50
)

// Detector converts RGBA frames into MarkerObservations using a runtime-
// swappable HSV range. Safe for concurrent SetHsv/Detect calls; the range
// swap is applied atomically between frames, never mid-frame, per spec §4.2.
type Detector struct {
	mu  sync.Mutex
	hsv types.HsvRange

	blur *gift.GIFT

	zeroMomentErrors atomic.Uint64
}

// Errors returns the cumulative count of zero-moment contours encountered
// (a degenerate connected component with no area), the only error-shaped
// condition Detect can hit.
func (d *Detector) Errors() uint64 {
	return d.zeroMomentErrors.Load()
}

// New creates a Detector with the given initial HSV range.
func New(initial types.HsvRange) *Detector {
	return &Detector{
		hsv:  initial,
		blur: gift.New(gift.GaussianBlur(1.0)),
	}
}

// SetHsv atomically swaps the active HSV threshold range.
func (d *Detector) SetHsv(r types.HsvRange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hsv = r
}

// Hsv returns the currently active HSV threshold range.
func (d *Detector) Hsv() types.HsvRange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hsv
}

// Detect runs the full pipeline on one frame: HSV mask, blur, open/close,
// connected components, area filter, max-area pick, centroid.
func (d *Detector) Detect(frame types.Frame) types.MarkerObservation {
	hsv := d.Hsv()

	mask := buildMask(frame, hsv)

	blurred := image.NewGray(mask.Bounds())
	d.blur.Draw(blurred, mask)
	rethreshold(blurred, 128)

	opened := morphOpen(blurred, 2)
	closed := morphClose(opened, 2)

	cocos := grayscale.CoCos(closed, 255, grayscale.NEIGHBOR8)

	best := -1
	bestArea := 0
	for i := range cocos {
		area := len(cocos[i])
		if area < MinContourArea {
			continue
		}
		if area > bestArea {
			bestArea = area
			best = i
		}
	}

	if best < 0 {
		return types.MarkerObservation{Detected: false, TimestampMonotonic: frame.CapturedAt}
	}

	cx, cy, ok := centroid(cocos[best])
	if !ok {
		d.zeroMomentErrors.Add(1)
		logger.Debug("detect", "zero-moment contour encountered, treating as undetected")
		return types.MarkerObservation{Detected: false, TimestampMonotonic: frame.CapturedAt}
	}

	pos := types.Point{X: cx, Y: cy}
	return types.MarkerObservation{
		Position:           &pos,
		Detected:           true,
		TimestampMonotonic: frame.CapturedAt,
	}
}

// centroid computes the image-moment centroid (m10/m00, m01/m00) of a set
// of mask points, rounded to integer pixels. Returns ok=false for an empty
// component (m00 == 0).
func centroid(points []image.Point) (x, y int, ok bool) {
	m00 := len(points)
	if m00 == 0 {
		return 0, 0, false
	}
	var m10, m01 int
	for _, p := range points {
		m10 += p.X
		m01 += p.Y
	}
	// round half up; mask coordinates are never negative
	return (2*m10 + m00) / (2 * m00), (2*m01 + m00) / (2 * m00), true
}

// buildMask converts the frame to HSV and thresholds it against r, unioning
// two slices when the hue range wraps (r.HLo > r.HHi).
func buildMask(frame types.Frame, r types.HsvRange) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))
	stride := frame.Width * 4 // assume RGBA source buffer

	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			idx := y*stride + x*4
			if idx+2 >= len(frame.Pix) {
				continue
			}
			red, green, blue := frame.Pix[idx], frame.Pix[idx+1], frame.Pix[idx+2]
			h, s, v := rgbToHsv(red, green, blue)

			inSV := s >= r.SLo && s <= r.SHi && v >= r.VLo && v <= r.VHi
			var inH bool
			if r.HLo <= r.HHi {
				inH = h >= r.HLo && h <= r.HHi
			} else {
				inH = h >= r.HLo || h <= r.HHi
			}

			if inH && inSV {
				mask.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return mask
}

// rgbToHsv converts 8-bit RGB to OpenCV-convention HSV: H in [0,179], S,V in [0,255].
func rgbToHsv(r, g, b byte) (h, s, v int) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	max := maxf(rf, gf, bf)
	min := minf(rf, gf, bf)
	delta := max - min

	v = int(max * 255)

	if max == 0 {
		return 0, 0, v
	}
	s = int((delta / max) * 255)

	var hf float64
	switch {
	case delta == 0:
		hf = 0
	case max == rf:
		hf = 60 * (((gf - bf) / delta))
	case max == gf:
		hf = 60 * (((bf - rf) / delta) + 2)
	default:
		hf = 60 * (((rf - gf) / delta) + 4)
	}
	if hf < 0 {
		hf += 360
	}
	h = int(hf / 2) // OpenCV halves hue to fit a byte: [0,179]
	return h, s, v
}

func maxf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
