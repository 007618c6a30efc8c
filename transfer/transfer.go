/*Package transfer moves raster frames over size limited message channels.

A frame travels as one JSON Header message followed by the raw RGBA bytes cut
into ChunkSize pieces.  Chunks carry no framing of their own; the receiver
counts bytes against the announced Length, so the channel must deliver in
order and without loss.

Sender serializes sessions on a channel and paces chunks, either by watching
the channel's buffered amount or, when the channel cannot report one, with a
fixed inter-chunk delay.  Reassembler is the receive side state machine.
*/
package transfer

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultChunkSize is the largest message the reference data channel accepts
	DefaultChunkSize = 64000

	// DefaultInterChunkDelay is the pacing used when a channel exposes no
	// buffered amount
	DefaultInterChunkDelay = 100 * time.Millisecond

	// DefaultBufferedThreshold is the buffered amount above which sends wait
	DefaultBufferedThreshold = 1 << 20

	// DefaultPollInterval is how often a buffered amount is re-read when the
	// channel has no low-water notification
	DefaultPollInterval = 5 * time.Millisecond
)

var (
	// ErrChannelUnavailable is generated when a session starts on a channel that is not open
	ErrChannelUnavailable = errors.New("transfer: channel not open")

	// ErrChannelClosed is generated when the channel closes part way through a session
	ErrChannelClosed = errors.New("transfer: channel closed mid-session")

	// ErrBadChunkSize is generated for a chunk size below one byte
	ErrBadChunkSize = errors.New("transfer: chunk size must be at least 1")

	// ErrOverrun is generated when more bytes arrive than the header announced
	ErrOverrun = errors.New("transfer: received more bytes than announced")

	// ErrIncomplete is generated when fewer bytes are reassembled than announced
	ErrIncomplete = errors.New("transfer: received fewer bytes than announced")

	// ErrBadHeader is generated when the first message of a transfer is not a valid Header
	ErrBadHeader = errors.New("transfer: malformed frame header")

	// ErrChecksum is generated by Frame.Verify when the payload CRC does not match
	ErrChecksum = errors.New("transfer: payload checksum mismatch")
)

// Split cuts b into consecutive slices of chunkSize bytes; the last may be
// shorter.  The slices alias b.
func Split(b []byte, chunkSize int) ([][]byte, error) {
	if chunkSize < 1 {
		return nil, ErrBadChunkSize
	}
	n := (len(b) + chunkSize - 1) / chunkSize
	out := make([][]byte, 0, n)
	for start := 0; start < len(b); start += chunkSize {
		end := start + chunkSize
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[start:end])
	}
	return out, nil
}

// Reassemble concatenates chunks in order and checks the result is total bytes long
func Reassemble(chunks [][]byte, total int) ([]byte, error) {
	out := make([]byte, 0, total)
	for _, c := range chunks {
		if len(out)+len(c) > total {
			return nil, errors.Wrapf(ErrOverrun, "%d bytes announced", total)
		}
		out = append(out, c...)
	}
	if len(out) != total {
		return nil, errors.Wrapf(ErrIncomplete, "%d of %d bytes", len(out), total)
	}
	return out, nil
}
