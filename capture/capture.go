/*Package capture describes sources of camera frames for the transfer codec.

Source is the minimal interface: one frame on demand.  Device adds the
lifecycle of real hardware, mirroring the Initialize / Finalize pair of lab
camera drivers.

*/
package capture

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/raster"
)

// ErrCaptureUnavailable is generated when there is no active video source
var ErrCaptureUnavailable = errors.New("capture: no active video source")

// Source yields raw frames on demand
type Source interface {
	// Capture grabs one frame.  The returned buffer belongs to the caller.
	Capture(context.Context) (*raster.PixelBuffer, error)
}

// Device is a Source backed by hardware that must be opened and closed
type Device interface {
	Source

	// Initialize opens the device and applies its resolution
	Initialize() error

	// Finalize releases the device
	Finalize() error

	// Resolution is the (W, H) of captured frames
	Resolution() (int, int)
}

// Func adapts a function to a Source
type Func func(context.Context) (*raster.PixelBuffer, error)

// Capture calls f
func (f Func) Capture(ctx context.Context) (*raster.PixelBuffer, error) {
	return f(ctx)
}

// Screen is anything showing a frame, such as the pattern framebuffer
type Screen interface {
	Frame() (*raster.PixelBuffer, error)
}

// Mirror captures whatever is on a Screen, standing in for a camera looking
// at the display.  It is the capture source of a mock rig.
type Mirror struct {
	Screen Screen
}

// Capture copies the current screen contents
func (m Mirror) Capture(ctx context.Context) (*raster.PixelBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Screen == nil {
		return nil, ErrCaptureUnavailable
	}
	buf, err := m.Screen.Frame()
	if err != nil || buf == nil {
		return nil, errors.Wrap(ErrCaptureUnavailable, "mirror: screen is blank")
	}
	return buf.Clone(), nil
}
