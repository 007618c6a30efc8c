package raster

import (
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFITS streams the luminance of one or more equally sized buffers to w
// as a 16-bit FITS image (or cube, when more than one buffer is given).
// 8-bit values are scaled into the upper byte of the 16-bit range.
func WriteFITS(w io.Writer, metadata []fitsio.Card, bufs ...*PixelBuffer) error {
	if len(bufs) == 0 {
		return ErrBadDimensions
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	width, height := bufs[0].Width, bufs[0].Height
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(bufs) > 1 {
		dims = append(dims, len(bufs))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, width*height*len(bufs))
	offset := 0
	for _, b := range bufs {
		if b.Width != width || b.Height != height {
			return ErrLengthMismatch
		}
		lum := b.Luminance()
		for idx, v := range lum {
			ints[offset+idx] = int16(int(v)*256 - 32768)
		}
		offset += len(lum)
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
