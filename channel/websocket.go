package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/transfer"
)

// readSlack is allowed on top of the chunk size for header messages
const readSlack = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket adapts a gorilla websocket connection to Conn.  Every message
// is sent as a binary frame.
type WebSocket struct {
	conn *websocket.Conn

	wmu sync.Mutex

	once   sync.Once
	closed chan struct{}
}

func newWebSocket(conn *websocket.Conn, chunkSize int) *WebSocket {
	if chunkSize < 1 {
		chunkSize = transfer.DefaultChunkSize
	}
	conn.SetReadLimit(int64(chunkSize + readSlack))
	return &WebSocket{conn: conn, closed: make(chan struct{})}
}

// Dial connects to a websocket server at url, retrying with exponential
// backoff for up to maxElapsed.  Connection refused is retried; a bad
// handshake is not.
func Dial(ctx context.Context, url string, chunkSize int, maxElapsed time.Duration) (*WebSocket, error) {
	var conn *websocket.Conn
	op := func() error {
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if resp != nil {
				// the server answered, retrying will not help
				return backoff.Permanent(errors.Wrapf(err, "channel: dial %s: HTTP %d", url, resp.StatusCode))
			}
			return err
		}
		conn = c
		return nil
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "channel: dial %s", url)
	}
	return newWebSocket(conn, chunkSize), nil
}

// Upgrade turns an HTTP request into a websocket
func Upgrade(w http.ResponseWriter, r *http.Request, chunkSize int) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocket(conn, chunkSize), nil
}

// Open is true until Close is called or a read or write fails
func (ws *WebSocket) Open() bool {
	select {
	case <-ws.closed:
		return false
	default:
		return true
	}
}

func (ws *WebSocket) markClosed() {
	ws.once.Do(func() { close(ws.closed) })
}

// Send writes msg as one binary message
func (ws *WebSocket) Send(msg []byte) error {
	if !ws.Open() {
		return ErrClosed
	}
	ws.wmu.Lock()
	defer ws.wmu.Unlock()
	err := ws.conn.WriteMessage(websocket.BinaryMessage, msg)
	if err != nil {
		ws.markClosed()
		return errors.Wrap(err, "channel: websocket write")
	}
	return nil
}

// Recv reads the next message.  Canceling ctx interrupts the read, which
// leaves the connection unusable.
func (ws *WebSocket) Recv(ctx context.Context) ([]byte, error) {
	if !ws.Open() {
		return nil, ErrClosed
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	_, msg, err := ws.conn.ReadMessage()
	if err != nil {
		ws.markClosed()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, errors.Wrap(err, "channel: websocket read")
	}
	return msg, nil
}

// Close sends a close frame and shuts the connection
func (ws *WebSocket) Close() error {
	if !ws.Open() {
		return nil
	}
	ws.markClosed()
	ws.wmu.Lock()
	ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.wmu.Unlock()
	return ws.conn.Close()
}
