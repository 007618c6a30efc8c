package frames

import (
	"bytes"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spieswl/webrtc-perception/raster"
)

func gray(t *testing.T) *raster.PixelBuffer {
	t.Helper()
	buf, err := raster.New(4, 3)
	if err != nil {
		t.Fatal(err)
	}
	buf.FillGray(0, 0, 4, 3, 200)
	return buf
}

func TestGetFramePNG(t *testing.T) {
	buf := gray(t)
	h := GetFrame(SourceFunc(func() (*raster.PixelBuffer, error) { return buf, nil }))
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestGetFrameRaw(t *testing.T) {
	buf := gray(t)
	h := GetFrame(SourceFunc(func() (*raster.PixelBuffer, error) { return buf, nil }))
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame?fmt=raw", nil))
	if !bytes.Equal(w.Body.Bytes(), buf.Pix) {
		t.Error("raw body does not match pixel data")
	}
	if w.Header().Get("X-Width") != "4" || w.Header().Get("X-Height") != "3" {
		t.Errorf("unexpected dimension headers %v", w.Header())
	}
}

func TestGetFrameFITS(t *testing.T) {
	buf := gray(t)
	h := GetFrame(SourceFunc(func() (*raster.PixelBuffer, error) { return buf, nil }))
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame?fmt=fits", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.Len()%2880 != 0 || w.Body.Len() == 0 {
		t.Errorf("FITS output of %d bytes is not block aligned", w.Body.Len())
	}
}

func TestGetFrameBadFormat(t *testing.T) {
	buf := gray(t)
	h := GetFrame(SourceFunc(func() (*raster.PixelBuffer, error) { return buf, nil }))
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame?fmt=gif", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetFrameUnavailable(t *testing.T) {
	h := GetFrame(SourceFunc(func() (*raster.PixelBuffer, error) { return nil, errors.New("nothing yet") }))
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

type stack []*raster.PixelBuffer

func (s stack) Stack() ([]*raster.PixelBuffer, error) { return s, nil }

func TestGetStack(t *testing.T) {
	s := stack{gray(t), gray(t), gray(t)}
	w := httptest.NewRecorder()
	GetStack(s)(w, httptest.NewRequest(http.MethodGet, "/stack", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("NAXIS3")) {
		t.Error("expected a three axis cube")
	}
}
