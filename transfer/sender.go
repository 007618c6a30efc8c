package transfer

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/raster"
	"golang.org/x/time/rate"
)

// Channel is an ordered message channel with a bounded message size
type Channel interface {
	// Open is true while messages may be sent
	Open() bool

	// Send transmits one message
	Send([]byte) error

	// Close shuts the channel down
	Close() error
}

// BufferedChannel is a Channel that reports how many bytes are queued
// but not yet on the wire
type BufferedChannel interface {
	Channel
	BufferedAmount() uint64
}

// LowWaterNotifier is a BufferedChannel that signals when its queue drains
// below the low water mark
type LowWaterNotifier interface {
	BufferedChannel
	BufferedAmountLow() <-chan struct{}
}

// Session describes one outbound frame transfer
type Session struct {
	ID          uuid.UUID `json:"id"`
	TotalLength int       `json:"totalLength"`
	ChunkSize   int       `json:"chunkSize"`
	BytesSent   int       `json:"bytesSent"`
}

// Sender streams frames over a Channel.  At most one session runs at a
// time; a second Send waits for the first to finish.
type Sender struct {
	// Channel is the destination
	Channel Channel

	// ChunkSize is the largest message sent
	ChunkSize int

	// InterChunkDelay paces chunks on channels that are not BufferedChannels
	InterChunkDelay time.Duration

	// BufferedThreshold is the buffered amount above which a BufferedChannel
	// is allowed to drain before the next chunk
	BufferedThreshold uint64

	// PollInterval is how often BufferedAmount is re-read while waiting
	PollInterval time.Duration

	guard   chan struct{}
	limiter *rate.Limiter
}

// NewSender returns a Sender with the default pacing
func NewSender(ch Channel, chunkSize int, interChunkDelay time.Duration) *Sender {
	lim := rate.Inf
	if interChunkDelay > 0 {
		lim = rate.Every(interChunkDelay)
	}
	return &Sender{
		Channel:           ch,
		ChunkSize:         chunkSize,
		InterChunkDelay:   interChunkDelay,
		BufferedThreshold: DefaultBufferedThreshold,
		PollInterval:      DefaultPollInterval,
		guard:             make(chan struct{}, 1),
		limiter:           rate.NewLimiter(lim, 1)}
}

// Send transfers buf with tag.  It blocks until any session already in
// flight finishes, then sends the header and every chunk.
//
// A session is terminal on error; nothing is resent.  Canceling ctx abandons
// the frame part way through.
func (s *Sender) Send(ctx context.Context, buf *raster.PixelBuffer, tag Tag) (Session, error) {
	sess := Session{ChunkSize: s.ChunkSize}
	if s.ChunkSize < 1 {
		return sess, ErrBadChunkSize
	}
	if err := buf.Validate(); err != nil {
		return sess, err
	}

	select {
	case s.guard <- struct{}{}:
	case <-ctx.Done():
		return sess, ctx.Err()
	}
	defer func() { <-s.guard }()

	if !s.Channel.Open() {
		return sess, ErrChannelUnavailable
	}

	hdr := NewHeader(buf, tag, s.ChunkSize)
	sess.ID = hdr.Session
	sess.TotalLength = hdr.Length
	msg, err := hdr.Marshal()
	if err != nil {
		return sess, err
	}
	if err = s.send(msg); err != nil {
		return sess, err
	}

	chunks, _ := Split(buf.Pix, s.ChunkSize)
	for _, chunk := range chunks {
		if err = s.pace(ctx); err != nil {
			return sess, errors.Wrapf(err, "session %s abandoned after %d of %d bytes", sess.ID, sess.BytesSent, sess.TotalLength)
		}
		if err = s.send(chunk); err != nil {
			return sess, errors.Wrapf(err, "session %s after %d of %d bytes", sess.ID, sess.BytesSent, sess.TotalLength)
		}
		sess.BytesSent += len(chunk)
	}
	return sess, nil
}

// send transmits one message, reporting ErrChannelClosed if the channel went away
func (s *Sender) send(msg []byte) error {
	if !s.Channel.Open() {
		return ErrChannelClosed
	}
	err := s.Channel.Send(msg)
	if err != nil {
		if !s.Channel.Open() {
			return ErrChannelClosed
		}
		return errors.Wrap(err, "transfer: send")
	}
	return nil
}

// pace blocks until the next chunk may go out
func (s *Sender) pace(ctx context.Context) error {
	bc, ok := s.Channel.(BufferedChannel)
	if !ok {
		return s.limiter.Wait(ctx)
	}
	var low <-chan struct{}
	if n, ok := bc.(LowWaterNotifier); ok {
		low = n.BufferedAmountLow()
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	for bc.BufferedAmount() > s.BufferedThreshold {
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-low:
		case <-timer.C:
		}
		timer.Stop()
		if !bc.Open() {
			return ErrChannelClosed
		}
	}
	return ctx.Err()
}

// Busy is true while a session is in flight
func (s *Sender) Busy() bool {
	select {
	case s.guard <- struct{}{}:
		<-s.guard
		return false
	default:
		return true
	}
}

// LogSession prints a one line summary of a finished session
func LogSession(l *log.Logger, sess Session, tag Tag, err error) {
	if err != nil {
		l.Printf("send %s %s failed after %d/%d bytes: %v", sess.ID, tag.Kind, sess.BytesSent, sess.TotalLength, err)
		return
	}
	l.Printf("sent %s %s f=%g #%d, %d bytes", sess.ID, tag.Kind, tag.Frequency, tag.FrameIndex, sess.BytesSent)
}
