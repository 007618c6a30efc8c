//go:build gocv
// +build gocv

package capture

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/raster"
	"gocv.io/x/gocv"
)

// Webcam captures from a local video device through OpenCV
type Webcam struct {
	// DeviceID is the OpenCV device index, 0 for the first camera
	DeviceID int

	// Width and Height are requested from the device on Initialize
	Width, Height int

	mu  sync.Mutex
	cap *gocv.VideoCapture
	img gocv.Mat
	rgb gocv.Mat
}

// NewWebcam returns a Webcam that is not yet open
func NewWebcam(device, width, height int) *Webcam {
	return &Webcam{DeviceID: device, Width: width, Height: height}
}

// Initialize opens the device
func (w *Webcam) Initialize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(w.DeviceID)
	if err != nil {
		return errors.Wrapf(ErrCaptureUnavailable, "webcam %d: %v", w.DeviceID, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(w.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(w.Height))
	w.cap = vc
	w.img = gocv.NewMat()
	w.rgb = gocv.NewMat()
	return nil
}

// Finalize closes the device
func (w *Webcam) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil
	}
	w.img.Close()
	w.rgb.Close()
	err := w.cap.Close()
	w.cap = nil
	return err
}

// Resolution is the requested frame size
func (w *Webcam) Resolution() (int, int) {
	return w.Width, w.Height
}

// Capture reads one frame and converts it from BGR to RGBA
func (w *Webcam) Capture(ctx context.Context) (*raster.PixelBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil, ErrCaptureUnavailable
	}
	if ok := w.cap.Read(&w.img); !ok || w.img.Empty() {
		return nil, errors.Wrapf(ErrCaptureUnavailable, "webcam %d: empty read", w.DeviceID)
	}
	gocv.CvtColor(w.img, &w.rgb, gocv.ColorBGRToRGBA)
	return raster.Wrap(w.rgb.Cols(), w.rgb.Rows(), w.rgb.ToBytes())
}
