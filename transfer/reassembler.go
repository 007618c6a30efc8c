package transfer

import (
	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/raster"
)

// Frame is a fully received transfer
type Frame struct {
	Header Header
	Buffer *raster.PixelBuffer
}

// Verify compares the payload against the CRC in the header.  The
// reassembler never calls it; integrity is the channel's job.
func (f *Frame) Verify() error {
	if got := Checksum(f.Buffer.Pix); got != f.Header.CRC {
		return errors.Wrapf(ErrChecksum, "header %08x, payload %08x", f.Header.CRC, got)
	}
	return nil
}

// Reassembler accumulates messages into frames.  It is not safe for
// concurrent use; feed it from the goroutine reading the channel.
type Reassembler struct {
	// MaxFrameLength bounds the payload a header may announce.  Zero means
	// DefaultMaxFrameLength.
	MaxFrameLength int

	hdr *Header
	buf []byte

	// Abandoned counts partial frames dropped because a new header arrived
	Abandoned int
}

// Push consumes one message.  It returns a Frame when msg completes one,
// and nil otherwise.
//
// With no frame pending, msg must be a Header.  While a frame is pending,
// messages are appended until the announced length is reached.  A header
// arriving mid-frame means the sender gave up on the previous frame, which
// is dropped.
func (r *Reassembler) Push(msg []byte) (*Frame, error) {
	if r.hdr == nil {
		hdr, err := parseHeader(msg, r.MaxFrameLength)
		if err != nil {
			return nil, err
		}
		r.start(hdr)
		return nil, nil
	}
	if looksLikeHeader(msg) {
		if hdr, err := parseHeader(msg, r.MaxFrameLength); err == nil {
			r.Abandoned++
			r.start(hdr)
			return nil, nil
		}
	}
	return r.appendChunk(msg)
}

// maxPrealloc caps the buffer reserved up front; larger frames grow as
// chunks arrive
const maxPrealloc = 4 << 20

func (r *Reassembler) start(hdr Header) {
	r.hdr = &hdr
	n := hdr.Length
	if n > maxPrealloc {
		n = maxPrealloc
	}
	r.buf = make([]byte, 0, n)
}

func (r *Reassembler) appendChunk(msg []byte) (*Frame, error) {
	if len(r.buf)+len(msg) > r.hdr.Length {
		total := r.hdr.Length
		r.Reset()
		return nil, errors.Wrapf(ErrOverrun, "%d bytes announced", total)
	}
	r.buf = append(r.buf, msg...)
	if len(r.buf) < r.hdr.Length {
		return nil, nil
	}
	buf, err := raster.Wrap(r.hdr.Width, r.hdr.Height, r.buf)
	if err != nil {
		r.Reset()
		return nil, err
	}
	f := &Frame{Header: *r.hdr, Buffer: buf}
	r.hdr, r.buf = nil, nil
	return f, nil
}

// Pending returns the header of the frame being received and how many
// bytes have arrived, or nil if idle
func (r *Reassembler) Pending() (*Header, int) {
	if r.hdr == nil {
		return nil, 0
	}
	h := *r.hdr
	return &h, len(r.buf)
}

// Reset drops any partial frame
func (r *Reassembler) Reset() {
	r.hdr = nil
	r.buf = nil
}
