//go:build !gocv
// +build !gocv

package capture

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/raster"
)

// Webcam is unavailable in builds without the gocv tag
type Webcam struct {
	DeviceID      int
	Width, Height int
}

// NewWebcam returns a Webcam that always fails to open
func NewWebcam(device, width, height int) *Webcam {
	return &Webcam{DeviceID: device, Width: width, Height: height}
}

// Initialize reports that OpenCV support was not compiled in
func (w *Webcam) Initialize() error {
	return errors.Wrap(ErrCaptureUnavailable, "webcam: built without the gocv tag")
}

// Finalize does nothing
func (w *Webcam) Finalize() error { return nil }

// Resolution is the requested frame size
func (w *Webcam) Resolution() (int, int) { return w.Width, w.Height }

// Capture always fails
func (w *Webcam) Capture(ctx context.Context) (*raster.PixelBuffer, error) {
	return nil, ErrCaptureUnavailable
}
