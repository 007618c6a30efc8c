package transfer

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/raster"
)

// headerMagic marks a message as a frame header
const headerMagic = "deflect-frame/1"

// DefaultMaxFrameLength is the largest payload a header may announce
// unless a receiver raises it: an 8192x8192 RGBA frame
const DefaultMaxFrameLength = 8192 * 8192 * raster.BytesPerPixel

var crcTable = crc.NewTable(crc.CRC32)

// Checksum is the CRC-32 (IEEE) of b
func Checksum(b []byte) uint64 {
	return crcTable.CalculateCRC(b)
}

// Tag is the bookkeeping tuple sent with every frame.  The receiver only
// logs it.
type Tag struct {
	// Kind is the pattern on screen when the frame was captured
	Kind pattern.Kind `json:"type"`

	// Code is Kind's numeric wire code
	Code int `json:"code"`

	// Frequency of the pattern, zero for the flat patterns
	Frequency float64 `json:"freq"`

	// FrameIndex counts frames within the current sequence step
	FrameIndex int `json:"counter"`
}

// NewTag builds a Tag for a pattern kind
func NewTag(kind pattern.Kind, frequency float64, frameIndex int) Tag {
	return Tag{Kind: kind, Code: kind.Code(), Frequency: frequency, FrameIndex: frameIndex}
}

// Header announces a frame.  It is the first message of every transfer.
type Header struct {
	Magic     string    `json:"magic"`
	Session   uuid.UUID `json:"session"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Length    int       `json:"length"`
	ChunkSize int       `json:"chunkSize"`
	CRC       uint64    `json:"crc"`
	Tag       Tag       `json:"tag"`
}

// NewHeader describes buf for a transfer in chunkSize pieces
func NewHeader(buf *raster.PixelBuffer, tag Tag, chunkSize int) Header {
	return Header{
		Magic:     headerMagic,
		Session:   uuid.New(),
		Width:     buf.Width,
		Height:    buf.Height,
		Length:    len(buf.Pix),
		ChunkSize: chunkSize,
		CRC:       Checksum(buf.Pix),
		Tag:       tag}
}

// Chunks is the number of chunk messages that follow the header
func (h Header) Chunks() int {
	if h.ChunkSize < 1 {
		return 0
	}
	return (h.Length + h.ChunkSize - 1) / h.ChunkSize
}

// Validate checks the header is self consistent and within
// DefaultMaxFrameLength
func (h Header) Validate() error {
	return h.ValidateLimit(DefaultMaxFrameLength)
}

// ValidateLimit checks the header is self consistent and announces at most
// maxLength bytes.  A non-positive maxLength means DefaultMaxFrameLength.
func (h Header) ValidateLimit(maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxFrameLength
	}
	if h.Magic != headerMagic {
		return errors.Wrapf(ErrBadHeader, "magic %q", h.Magic)
	}
	if h.Width <= 0 || h.Height <= 0 {
		return errors.Wrapf(ErrBadHeader, "frame %dx%d", h.Width, h.Height)
	}
	// divide rather than multiply so huge dimensions cannot wrap
	if h.Width > maxLength/h.Height/raster.BytesPerPixel {
		return errors.Wrapf(ErrBadHeader, "frame %dx%d exceeds %d bytes", h.Width, h.Height, maxLength)
	}
	if h.Length != h.Width*h.Height*raster.BytesPerPixel {
		return errors.Wrapf(ErrBadHeader, "length %d does not match %dx%d RGBA", h.Length, h.Width, h.Height)
	}
	if h.ChunkSize < 1 {
		return errors.Wrapf(ErrBadHeader, "chunk size %d", h.ChunkSize)
	}
	return nil
}

// Marshal encodes the header for the wire
func (h Header) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// ParseHeader decodes and validates a header message against
// DefaultMaxFrameLength
func ParseHeader(msg []byte) (Header, error) {
	return parseHeader(msg, DefaultMaxFrameLength)
}

func parseHeader(msg []byte, maxLength int) (Header, error) {
	h := Header{}
	if err := json.Unmarshal(msg, &h); err != nil {
		return h, errors.Wrap(ErrBadHeader, err.Error())
	}
	return h, h.ValidateLimit(maxLength)
}

// looksLikeHeader is a cheap test before attempting a full parse
func looksLikeHeader(msg []byte) bool {
	return len(msg) > 0 && len(msg) < 1024 && msg[0] == '{' && bytes.Contains(msg, []byte(headerMagic))
}
