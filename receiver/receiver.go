// Package receiver is the consuming end of a frame transfer.  It reads
// messages off channels, reassembles frames, and keeps the most recent ones
// for HTTP clients.
package receiver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/channel"
	"github.com/spieswl/webrtc-perception/generichttp"
	"github.com/spieswl/webrtc-perception/generichttp/frames"
	"github.com/spieswl/webrtc-perception/raster"
	"github.com/spieswl/webrtc-perception/transfer"
)

// ErrNoFrame is generated before any frame has been received
var ErrNoFrame = errors.New("receiver: no frame received yet")

// Stats summarize what a Receiver has seen
type Stats struct {
	Frames    int          `json:"frames"`
	Bytes     int64        `json:"bytes"`
	Errors    int          `json:"errors"`
	Abandoned int          `json:"abandoned"`
	BadCRC    int          `json:"badCRC"`
	LastTag   transfer.Tag `json:"lastTag"`
	LastFrame time.Time    `json:"lastFrame"`
}

// Receiver collects frames from any number of channels
type Receiver struct {
	// Depth is how many recent frames are kept for Stack
	Depth int

	// Verify checks each frame's CRC and drops mismatches
	Verify bool

	// ChunkSize bounds websocket reads
	ChunkSize int

	// MaxFrameLength bounds the frame size a header may announce.  Zero
	// means transfer.DefaultMaxFrameLength.
	MaxFrameLength int

	// OnFrame, if not nil, is called for every completed frame
	OnFrame func(*transfer.Frame)

	log *log.Logger

	mu     sync.RWMutex
	recent []*transfer.Frame
	stats  Stats
}

// New returns a Receiver keeping depth frames
func New(depth, chunkSize int, verify bool) *Receiver {
	if depth < 1 {
		depth = 1
	}
	return &Receiver{
		Depth:     depth,
		Verify:    verify,
		ChunkSize: chunkSize,
		log:       log.New(os.Stderr, "receiver ", log.LstdFlags)}
}

// Run reads conn until it closes or ctx is done
func (r *Receiver) Run(ctx context.Context, conn channel.Conn) error {
	asm := transfer.Reassembler{MaxFrameLength: r.MaxFrameLength}
	defer func() {
		r.mu.Lock()
		r.stats.Abandoned += asm.Abandoned
		r.mu.Unlock()
	}()
	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			if errors.Cause(err) == channel.ErrClosed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		f, err := asm.Push(msg)
		if err != nil {
			r.log.Println(err)
			r.mu.Lock()
			r.stats.Errors++
			r.mu.Unlock()
			continue
		}
		if f != nil {
			r.accept(f)
		}
	}
}

func (r *Receiver) accept(f *transfer.Frame) {
	if r.Verify {
		if err := f.Verify(); err != nil {
			r.log.Println(err)
			r.mu.Lock()
			r.stats.BadCRC++
			r.mu.Unlock()
			return
		}
	}
	r.mu.Lock()
	r.recent = append(r.recent, f)
	if len(r.recent) > r.Depth {
		r.recent = r.recent[len(r.recent)-r.Depth:]
	}
	r.stats.Frames++
	r.stats.Bytes += int64(f.Header.Length)
	r.stats.LastTag = f.Header.Tag
	r.stats.LastFrame = time.Now()
	r.mu.Unlock()
	tag := f.Header.Tag
	r.log.Printf("frame %s %dx%d %s f=%g #%d", f.Header.Session, f.Header.Width, f.Header.Height, tag.Kind, tag.Frequency, tag.FrameIndex)
	if r.OnFrame != nil {
		r.OnFrame(f)
	}
}

// Latest returns the most recent frame
func (r *Receiver) Latest() (*transfer.Frame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.recent) == 0 {
		return nil, ErrNoFrame
	}
	return r.recent[len(r.recent)-1], nil
}

// Frame satisfies frames.Source with the latest buffer
func (r *Receiver) Frame() (*raster.PixelBuffer, error) {
	f, err := r.Latest()
	if err != nil {
		return nil, err
	}
	return f.Buffer, nil
}

// Stack satisfies frames.Stacker with the recent frames that match the size
// of the latest one, oldest first
func (r *Receiver) Stack() ([]*raster.PixelBuffer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.recent) == 0 {
		return nil, ErrNoFrame
	}
	last := r.recent[len(r.recent)-1].Buffer
	out := []*raster.PixelBuffer{}
	for _, f := range r.recent {
		if f.Buffer.Width == last.Width && f.Buffer.Height == last.Height {
			out = append(out, f.Buffer)
		}
	}
	return out, nil
}

// CollectHeaderMetadata describes the latest frame as FITS cards
func (r *Receiver) CollectHeaderMetadata() []fitsio.Card {
	f, err := r.Latest()
	if err != nil {
		return nil
	}
	tag := f.Header.Tag
	return []fitsio.Card{
		{Name: "SESSION", Value: f.Header.Session.String(), Comment: "transfer session"},
		{Name: "PATTERN", Value: tag.Kind.String(), Comment: "pattern on screen"},
		{Name: "PATCODE", Value: tag.Code, Comment: "pattern type code"},
		{Name: "FREQ", Value: tag.Frequency, Comment: "pattern frequency, cycles"},
		{Name: "COUNTER", Value: tag.FrameIndex, Comment: "frame index within step"},
		{Name: "CRC", Value: fmt.Sprintf("%08x", f.Header.CRC), Comment: "CRC-32 of RGBA payload"},
	}
}

// Stats returns a copy of the counters
func (r *Receiver) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// RT returns the receive node's routes
func (r *Receiver) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/channel"}:       r.ServeChannel,
		{Method: http.MethodGet, Path: "/frames/latest"}: frames.GetFrame(r),
		{Method: http.MethodGet, Path: "/frames/stack"}:  frames.GetStack(r),
		{Method: http.MethodGet, Path: "/frames/stats"}: func(w http.ResponseWriter, req *http.Request) {
			generichttp.EncodeJSON(w, r.Stats())
		},
		{Method: http.MethodGet, Path: "/frames/count"}: generichttp.GetInt(func() (int, error) {
			return r.Stats().Frames, nil
		}),
	}
}

// ServeChannel upgrades the request to a websocket and receives frames on it
// until the peer disconnects
func (r *Receiver) ServeChannel(w http.ResponseWriter, req *http.Request) {
	ws, err := channel.Upgrade(w, req, r.ChunkSize)
	if err != nil {
		r.log.Println("upgrade:", err)
		return
	}
	defer ws.Close()
	r.log.Println("channel opened from", req.RemoteAddr)
	if err := r.Run(req.Context(), ws); err != nil {
		r.log.Println("channel:", err)
	}
	r.log.Println("channel closed from", req.RemoteAddr)
}
