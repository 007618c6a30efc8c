package sequence

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/raster"
)

// ErrBlank is generated by Framebuffer.Frame before anything has been shown
var ErrBlank = errors.New("sequence: nothing has been shown")

// Display puts a pattern on screen
type Display interface {
	Show(pattern.Spec, *raster.PixelBuffer) error
}

// Framebuffer is a Display that keeps the most recent pattern in memory for
// a renderer or mirror to read.  Shown buffers must not be modified
// afterwards.
type Framebuffer struct {
	mu    sync.RWMutex
	spec  pattern.Spec
	buf   *raster.PixelBuffer
	shown int
}

// Show replaces the current frame
func (f *Framebuffer) Show(spec pattern.Spec, buf *raster.PixelBuffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spec = spec
	f.buf = buf
	f.shown++
	return nil
}

// Frame returns the frame on screen
func (f *Framebuffer) Frame() (*raster.PixelBuffer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.buf == nil {
		return nil, ErrBlank
	}
	return f.buf, nil
}

// Spec returns the pattern on screen
func (f *Framebuffer) Spec() pattern.Spec {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.spec
}

// Shown is the number of frames shown so far
func (f *Framebuffer) Shown() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.shown
}
