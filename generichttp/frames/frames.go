// Package frames exposes raster frames over HTTP as png, jpg, fits, or raw RGBA
package frames

import (
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"
	"github.com/spieswl/webrtc-perception/raster"
)

// Source is anything that can hand out its current frame
type Source interface {
	Frame() (*raster.PixelBuffer, error)
}

// SourceFunc adapts a function to a Source
type SourceFunc func() (*raster.PixelBuffer, error)

// Frame calls f
func (f SourceFunc) Frame() (*raster.PixelBuffer, error) {
	return f()
}

// MetadataMaker can produce FITS header cards describing its current frame
type MetadataMaker interface {
	CollectHeaderMetadata() []fitsio.Card
}

// Stacker can hand out a run of recent frames, oldest first
type Stacker interface {
	Stack() ([]*raster.PixelBuffer, error)
}

// GetFrame returns an HTTP handler that writes the current frame of src.
//
// the format is picked with the fmt query parameter, one of png (default),
// jpg, fits, or raw.  raw is the RGBA bytes with the dimensions in the
// X-Width and X-Height headers.
func GetFrame(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buf, err := src.Frame()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "png"
		}
		hdr := w.Header()
		switch format {
		case "png":
			hdr.Set("Content-Type", "image/png")
			err = buf.EncodePNG(w)
		case "jpg":
			hdr.Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, buf.ToImage(), nil)
		case "fits":
			cards := []fitsio.Card{}
			if carder, ok := src.(MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = raster.WriteFITS(w, cards, buf)
		case "raw":
			hdr.Set("Content-Type", "application/octet-stream")
			hdr.Set("X-Width", strconv.Itoa(buf.Width))
			hdr.Set("X-Height", strconv.Itoa(buf.Height))
			_, err = w.Write(buf.Pix)
		default:
			http.Error(w, "fmt must be one of png, jpg, fits, raw", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// GetStack returns an HTTP handler writing the frames of s as a FITS cube
func GetStack(s Stacker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bufs, err := s.Stack()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		cards := []fitsio.Card{}
		if carder, ok := s.(MetadataMaker); ok {
			cards = carder.CollectHeaderMetadata()
		}
		cards = append(cards, fitsio.Card{Name: "NFRAMES", Value: len(bufs), Comment: "frames in cube"})
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=stack.fits")
		err = raster.WriteFITS(w, cards, bufs...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
