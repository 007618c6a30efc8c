package channel

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// DataChannel wraps an already negotiated pion data channel.  It exposes the
// SCTP buffered amount so a transfer.Sender paces on real backpressure
// instead of a timer.
type DataChannel struct {
	dc *webrtc.DataChannel

	inbox chan []byte
	low   chan struct{}

	once   sync.Once
	closed chan struct{}
}

// WrapDataChannel takes over dc's callbacks.  lowWater is the buffered
// amount at which waiting senders are woken; depth is how many received
// messages are queued for Recv.  A full queue blocks the receive callback,
// which stalls the SCTP stream rather than losing chunks.
func WrapDataChannel(dc *webrtc.DataChannel, lowWater uint64, depth int) *DataChannel {
	d := &DataChannel{
		dc:     dc,
		inbox:  make(chan []byte, depth),
		low:    make(chan struct{}, 1),
		closed: make(chan struct{})}
	dc.SetBufferedAmountLowThreshold(lowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case d.low <- struct{}{}:
		default:
		}
	})
	dc.OnClose(d.markClosed)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.deliver(msg.Data)
	})
	return d
}

// deliver queues msg for Recv, blocking while the queue is full
func (d *DataChannel) deliver(msg []byte) {
	select {
	case d.inbox <- msg:
	case <-d.closed:
	}
}

func (d *DataChannel) markClosed() {
	d.once.Do(func() { close(d.closed) })
}

// Open is true while the underlying channel is in the open state
func (d *DataChannel) Open() bool {
	select {
	case <-d.closed:
		return false
	default:
	}
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send transmits msg as one binary message
func (d *DataChannel) Send(msg []byte) error {
	err := d.dc.Send(msg)
	if err != nil {
		return errors.Wrapf(err, "channel: data channel %s", d.dc.Label())
	}
	return nil
}

// BufferedAmount is the number of bytes queued in the SCTP transport
func (d *DataChannel) BufferedAmount() uint64 {
	return d.dc.BufferedAmount()
}

// BufferedAmountLow fires when the buffered amount crosses below the low
// water mark
func (d *DataChannel) BufferedAmountLow() <-chan struct{} {
	return d.low
}

// Recv returns the next received message.  Messages queued before the
// channel closed are still delivered.
func (d *DataChannel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-d.inbox:
		return msg, nil
	default:
	}
	select {
	case msg := <-d.inbox:
		return msg, nil
	case <-d.closed:
		select {
		case msg := <-d.inbox:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the data channel
func (d *DataChannel) Close() error {
	d.markClosed()
	return d.dc.Close()
}
