//go:build !linux

package capture

import "github.com/steadyscript/steadyscript/pkg/types"

// NewWebcamDevice is unavailable outside Linux: pion/mediadevices' capture
// driver in this module's dependency closure is V4L2-only (the same
// platform split the teacher family uses for its own local camera/mic
// capture). A Windows/macOS backend would need a different mediadevices
// driver import; none is present anywhere in the example pack.
func NewWebcamDevice() Device {
	return &unavailableDevice{}
}

type unavailableDevice struct{}

func (d *unavailableDevice) Open(index int) error {
	return ErrDeviceUnavailable
}

func (d *unavailableDevice) ReadFrame() (types.Frame, error) {
	return types.Frame{}, ErrDeviceUnavailable
}

func (d *unavailableDevice) Close() error { return nil }
