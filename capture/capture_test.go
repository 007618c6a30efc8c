package capture

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/raster"
)

var _ Device = (*Webcam)(nil)

type screen struct {
	buf *raster.PixelBuffer
}

func (s screen) Frame() (*raster.PixelBuffer, error) {
	if s.buf == nil {
		return nil, errors.New("blank")
	}
	return s.buf, nil
}

func gray(t *testing.T, w, h int, v byte) *raster.PixelBuffer {
	t.Helper()
	buf, err := raster.New(w, h)
	if err != nil {
		t.Fatal(err)
	}
	buf.FillGray(0, 0, w, h, v)
	return buf
}

func TestMirrorCopies(t *testing.T) {
	src := gray(t, 4, 4, 90)
	m := Mirror{Screen: screen{src}}
	got, err := m.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got.Pix[0] = 0
	if src.Pix[0] != 90 {
		t.Error("capture aliases the screen buffer")
	}
}

func TestMirrorBlankScreen(t *testing.T) {
	for _, m := range []Mirror{{}, {Screen: screen{}}} {
		if _, err := m.Capture(context.Background()); errors.Cause(err) != ErrCaptureUnavailable {
			t.Errorf("expected ErrCaptureUnavailable, got %v", err)
		}
	}
}

func TestResize(t *testing.T) {
	r := Resize{Source: Mirror{Screen: screen{gray(t, 8, 6, 200)}}, Width: 4, Height: 3}
	got, err := r.Capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 4 || got.Height != 3 {
		t.Fatalf("expected 4x3, got %dx%d", got.Width, got.Height)
	}
	if px := got.At(2, 1); px[0] != 200 || px[3] != 255 {
		t.Errorf("uniform image changed value on resize: %v", px)
	}
}

func TestFunc(t *testing.T) {
	called := false
	f := Func(func(context.Context) (*raster.PixelBuffer, error) {
		called = true
		return nil, ErrCaptureUnavailable
	})
	if _, err := f.Capture(context.Background()); err != ErrCaptureUnavailable || !called {
		t.Error("Func did not forward the call")
	}
}
