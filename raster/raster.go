// Package raster holds the RGBA pixel buffer exchanged between the pattern
// generator, capture sources, and the transfer codec.
//
// Buffers are row major with four bytes per pixel in R, G, B, A order, the
// same layout as a browser canvas ImageData and as image.RGBA with a tight
// stride.  A buffer is owned by whoever produced it; consumers that need to
// keep or mutate it call Clone.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
)

// BytesPerPixel is the number of bytes used by each RGBA pixel
const BytesPerPixel = 4

var (
	// ErrBadDimensions is generated when a width or height is not positive
	ErrBadDimensions = errors.New("raster: width and height must be positive")

	// ErrLengthMismatch is generated when len(Pix) != Width*Height*4
	ErrLengthMismatch = errors.New("raster: pixel data length does not match dimensions")
)

// PixelBuffer is a fixed size RGBA raster
type PixelBuffer struct {
	// Width is the number of columns
	Width int `json:"width"`

	// Height is the number of rows
	Height int `json:"height"`

	// Pix holds Width*Height*4 bytes of RGBA data
	Pix []byte `json:"-"`
}

// New allocates a zeroed (transparent black) buffer of the given size
func New(width, height int) (*PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadDimensions
	}
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*BytesPerPixel)}, nil
}

// Wrap adopts an existing byte slice as a buffer, checking its length
func Wrap(width, height int, pix []byte) (*PixelBuffer, error) {
	b := &PixelBuffer{Width: width, Height: height, Pix: pix}
	return b, b.Validate()
}

// Len is the expected byte length for the buffer's dimensions
func (b *PixelBuffer) Len() int {
	return b.Width * b.Height * BytesPerPixel
}

// Validate checks the length invariant
func (b *PixelBuffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return ErrBadDimensions
	}
	if len(b.Pix) != b.Len() {
		return fmt.Errorf("%w: have %d bytes, %dx%d needs %d", ErrLengthMismatch, len(b.Pix), b.Width, b.Height, b.Len())
	}
	return nil
}

// Clone returns a deep copy of the buffer
func (b *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return &PixelBuffer{Width: b.Width, Height: b.Height, Pix: pix}
}

// offset is the index of the red byte of pixel (x, y)
func (b *PixelBuffer) offset(x, y int) int {
	return (y*b.Width + x) * BytesPerPixel
}

// At returns the RGBA quadruple at (x, y)
func (b *PixelBuffer) At(x, y int) [4]byte {
	o := b.offset(x, y)
	return [4]byte{b.Pix[o], b.Pix[o+1], b.Pix[o+2], b.Pix[o+3]}
}

// SetGray writes (v, v, v, 255) at (x, y)
func (b *PixelBuffer) SetGray(x, y int, v byte) {
	o := b.offset(x, y)
	b.Pix[o] = v
	b.Pix[o+1] = v
	b.Pix[o+2] = v
	b.Pix[o+3] = 255
}

// FillGray writes (v, v, v, 255) to every pixel in the half-open rectangle
// [x0, x1) x [y0, y1).  The rectangle is clipped to the buffer.
func (b *PixelBuffer) FillGray(x0, y0, x1, y1 int, v byte) {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > b.Width {
		x1 = b.Width
	}
	if y1 > b.Height {
		y1 = b.Height
	}
	if x0 >= x1 || y0 >= y1 {
		return
	}
	// build one row then copy it down; rows are contiguous
	row := b.Pix[b.offset(x0, y0):b.offset(x1-1, y0)+BytesPerPixel]
	for i := 0; i < len(row); i += BytesPerPixel {
		row[i] = v
		row[i+1] = v
		row[i+2] = v
		row[i+3] = 255
	}
	for y := y0 + 1; y < y1; y++ {
		copy(b.Pix[b.offset(x0, y):], row)
	}
}

// ToImage views the buffer as an *image.RGBA without copying
func (b *PixelBuffer) ToImage() *image.RGBA {
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, b.Width, b.Height)}
}

// FromImage copies any image into a new buffer, converting to RGBA
func FromImage(img image.Image) (*PixelBuffer, error) {
	bounds := img.Bounds()
	out, err := New(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	draw.Draw(out.ToImage(), out.ToImage().Bounds(), img, bounds.Min, draw.Src)
	return out, nil
}

// Luminance returns an 8-bit gray plane using the ITU-R 601 weights
// also used by image/color for gray conversion
func (b *PixelBuffer) Luminance() []byte {
	out := make([]byte, b.Width*b.Height)
	for i := range out {
		o := i * BytesPerPixel
		r, g, bl := uint32(b.Pix[o]), uint32(b.Pix[o+1]), uint32(b.Pix[o+2])
		out[i] = byte((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
	}
	return out
}

// EncodePNG writes the buffer to w as a PNG
func (b *PixelBuffer) EncodePNG(w io.Writer) error {
	return png.Encode(w, b.ToImage())
}
