// Package channel provides message channels frames are transferred over:
// an in-memory pipe, a websocket, and a WebRTC data channel.
//
// Every type here satisfies transfer.Channel for sending and Conn for
// receiving.
package channel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/transfer"
)

// ErrClosed is generated by Send and Recv after the channel has closed
var ErrClosed = errors.New("channel: closed")

// Conn is a channel that can also receive
type Conn interface {
	transfer.Channel

	// Recv blocks for the next message
	Recv(context.Context) ([]byte, error)
}

// Loopback is one end of an in-memory message pipe
type Loopback struct {
	peer   *Loopback
	inbox  chan []byte
	state  *pipeState
	closed chan struct{}
}

type pipeState struct {
	once   sync.Once
	closed chan struct{}
}

// Pipe returns two connected ends.  Each end queues up to depth messages
// before Send blocks.
func Pipe(depth int) (*Loopback, *Loopback) {
	st := &pipeState{closed: make(chan struct{})}
	a := &Loopback{inbox: make(chan []byte, depth), state: st, closed: st.closed}
	b := &Loopback{inbox: make(chan []byte, depth), state: st, closed: st.closed}
	a.peer, b.peer = b, a
	return a, b
}

// Open is true until either end is closed
func (l *Loopback) Open() bool {
	select {
	case <-l.closed:
		return false
	default:
		return true
	}
}

// Send copies msg to the peer's inbox
func (l *Loopback) Send(msg []byte) error {
	cpy := append([]byte(nil), msg...)
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	select {
	case l.peer.inbox <- cpy:
		return nil
	case <-l.closed:
		return ErrClosed
	}
}

// Recv returns the next message sent by the peer.  Messages already queued
// when the pipe closes are still delivered.
func (l *Loopback) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-l.inbox:
		return msg, nil
	default:
	}
	select {
	case msg := <-l.inbox:
		return msg, nil
	case <-l.closed:
		select {
		case msg := <-l.inbox:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends
func (l *Loopback) Close() error {
	l.state.once.Do(func() { close(l.state.closed) })
	return nil
}
