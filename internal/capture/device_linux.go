//go:build linux

package capture

import (
	"fmt"
	"image"
	"image/draw"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/steadyscript/steadyscript/pkg/types"
)

// webcamDevice opens a V4L2 camera via pion/mediadevices (the real capture
// driver this module's dependency closure carries, same as the teacher
// family's own browser self-view capture), decodes each sample into an
// image.Image, and converts it into a types.Frame RGBA buffer.
type webcamDevice struct {
	stream mediadevices.MediaStream
	track  *mediadevices.VideoTrack
	reader videoReader
	closer func() error
}

// videoReader matches mediadevices' VideoTrack.NewReader return type
// narrowly, so this file only depends on the one method it calls.
type videoReader interface {
	Read() (image.Image, func(), error)
}

// NewWebcamDevice returns a Device backed by the system's default V4L2
// camera. device_other.go defines the same constructor for non-Linux
// builds, so callers compile against one call site.
func NewWebcamDevice() Device {
	return &webcamDevice{}
}

func (d *webcamDevice) Open(index int) error {
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
		},
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return fmt.Errorf("open camera index %d: %w", index, err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("camera index %d exposed no video track", index)
	}
	track := tracks[0].(*mediadevices.VideoTrack)
	reader := track.NewReader(false)

	d.stream = stream
	d.track = track
	d.reader = reader
	d.closer = track.Close
	return nil
}

func (d *webcamDevice) ReadFrame() (types.Frame, error) {
	img, release, err := d.reader.Read()
	if err != nil {
		return types.Frame{}, err
	}
	defer release()

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	return types.Frame{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Pix:        rgba.Pix,
		CapturedAt: time.Now(),
	}, nil
}

func (d *webcamDevice) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}
