package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/raster"
)

// recorder is an in-memory Channel that keeps every message
type recorder struct {
	mu       sync.Mutex
	open     bool
	msgs     [][]byte
	closeAt  int // close after this many messages, 0 = never
	buffered uint64
	drain    uint64
	reads    int
}

func (r *recorder) Open() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *recorder) Send(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.open {
		return errors.New("closed")
	}
	r.msgs = append(r.msgs, append([]byte(nil), b...))
	if r.closeAt > 0 && len(r.msgs) >= r.closeAt {
		r.open = false
	}
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

func (r *recorder) messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs
}

// buffering adds a buffered amount to recorder that drains on every read
type buffering struct {
	*recorder
}

func (b buffering) Send(msg []byte) error {
	err := b.recorder.Send(msg)
	b.mu.Lock()
	b.buffered += uint64(len(msg))
	b.mu.Unlock()
	return err
}

func (b buffering) BufferedAmount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	amt := b.buffered
	if b.buffered > b.drain {
		b.buffered -= b.drain
	} else {
		b.buffered = 0
	}
	return amt
}

func testFrame(t *testing.T, w, h int) *raster.PixelBuffer {
	t.Helper()
	buf, err := raster.New(w, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range buf.Pix {
		buf.Pix[i] = byte(i * 7)
	}
	return buf
}

func ExampleSplit() {
	chunks, _ := Split([]byte("abcdefgh"), 3)
	for _, c := range chunks {
		fmt.Println(string(c))
	}
	// Output:
	// abc
	// def
	// gh
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 12, 64, 100} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i)
		}
		for _, size := range []int{1, 3, 4, 64, 101} {
			chunks, err := Split(b, size)
			if err != nil {
				t.Fatal(err)
			}
			for i, c := range chunks {
				if len(c) > size || (i < len(chunks)-1 && len(c) != size) {
					t.Errorf("n=%d size=%d: chunk %d has %d bytes", n, size, i, len(c))
				}
			}
			out, err := Reassemble(chunks, n)
			if err != nil {
				t.Fatalf("n=%d size=%d: %v", n, size, err)
			}
			if !bytes.Equal(out, b) {
				t.Errorf("n=%d size=%d: round trip differs", n, size)
			}
		}
	}
}

func TestSplitBadChunkSize(t *testing.T) {
	if _, err := Split([]byte{1}, 0); err != ErrBadChunkSize {
		t.Errorf("expected ErrBadChunkSize, got %v", err)
	}
}

func TestReassembleLengthChecks(t *testing.T) {
	chunks := [][]byte{{1, 2}, {3}}
	if _, err := Reassemble(chunks, 2); errors.Cause(err) != ErrOverrun {
		t.Errorf("expected ErrOverrun, got %v", err)
	}
	if _, err := Reassemble(chunks, 4); errors.Cause(err) != ErrIncomplete {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}
}

func TestTagJSON(t *testing.T) {
	b, err := json.Marshal(NewTag(pattern.VerticalLine, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"vertical-line","code":4,"freq":2,"counter":3}`
	if string(b) != want {
		t.Errorf("expected %s, got %s", want, b)
	}
}

func TestSenderHeaderThenChunks(t *testing.T) {
	ch := &recorder{open: true}
	s := NewSender(ch, 64, 0)
	buf := testFrame(t, 10, 10)
	tag := NewTag(pattern.VerticalFringe, 2.5, 1)
	sess, err := s.Send(context.Background(), buf, tag)
	if err != nil {
		t.Fatal(err)
	}
	if sess.BytesSent != 400 || sess.TotalLength != 400 {
		t.Errorf("unexpected session %+v", sess)
	}
	msgs := ch.messages()
	if len(msgs) != 1+7 {
		t.Fatalf("expected header and 7 chunks, got %d messages", len(msgs))
	}
	hdr, err := ParseHeader(msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Session != sess.ID || hdr.Chunks() != 7 {
		t.Errorf("unexpected header %+v", hdr)
	}
	if diff := cmp.Diff(tag, hdr.Tag); diff != "" {
		t.Errorf("tag (-want +got):\n%s", diff)
	}

	r := Reassembler{}
	var frame *Frame
	for i, m := range msgs {
		f, err := r.Push(m)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if f != nil {
			if i != len(msgs)-1 {
				t.Errorf("frame completed early at message %d", i)
			}
			frame = f
		}
	}
	if frame == nil {
		t.Fatal("no frame reassembled")
	}
	if !bytes.Equal(frame.Buffer.Pix, buf.Pix) {
		t.Error("reassembled frame differs")
	}
	if err := frame.Verify(); err != nil {
		t.Error(err)
	}
}

func TestSenderChannelUnavailable(t *testing.T) {
	ch := &recorder{}
	s := NewSender(ch, 64, 0)
	_, err := s.Send(context.Background(), testFrame(t, 2, 2), Tag{})
	if err != ErrChannelUnavailable {
		t.Errorf("expected ErrChannelUnavailable, got %v", err)
	}
	if len(ch.messages()) != 0 {
		t.Error("nothing should be sent on a closed channel")
	}
}

func TestSenderChannelClosedMidSession(t *testing.T) {
	ch := &recorder{open: true, closeAt: 3}
	s := NewSender(ch, 16, 0)
	sess, err := s.Send(context.Background(), testFrame(t, 4, 4), Tag{})
	if errors.Cause(err) != ErrChannelClosed {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if sess.BytesSent != 32 {
		t.Errorf("expected 2 chunks on the wire before close, got %d bytes", sess.BytesSent)
	}
}

func TestSenderCancelAbandonsFrame(t *testing.T) {
	ch := &recorder{open: true}
	s := NewSender(ch, 16, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	sess, err := s.Send(ctx, testFrame(t, 4, 4), Tag{})
	if errors.Cause(err) != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sess.BytesSent != 16 {
		t.Errorf("expected only the first chunk before pacing blocked, got %d bytes", sess.BytesSent)
	}
	if s.Busy() {
		t.Error("guard still held after abandoned session")
	}
}

func TestSenderPacesWithDelay(t *testing.T) {
	ch := &recorder{open: true}
	s := NewSender(ch, 16, 10*time.Millisecond)
	start := time.Now()
	if _, err := s.Send(context.Background(), testFrame(t, 4, 4), Tag{}); err != nil {
		t.Fatal(err)
	}
	// four chunks, the first free
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("four paced chunks took only %v", elapsed)
	}
}

func TestSenderWaitsForBufferToDrain(t *testing.T) {
	rec := &recorder{open: true, drain: 10}
	ch := buffering{rec}
	s := NewSender(ch, 16, time.Hour)
	s.BufferedThreshold = 20
	s.PollInterval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := s.Send(ctx, testFrame(t, 4, 4), Tag{})
	if err != nil {
		t.Fatal(err)
	}
	if sess.BytesSent != 64 {
		t.Errorf("expected 64 bytes, got %d", sess.BytesSent)
	}
	if rec.reads < 4 {
		t.Errorf("expected the buffered amount to be polled, read %d times", rec.reads)
	}
}

func TestSenderSerializesSessions(t *testing.T) {
	ch := &recorder{open: true}
	s := NewSender(ch, 8, 0)
	a, b := testFrame(t, 3, 3), testFrame(t, 5, 2)
	var wg sync.WaitGroup
	for _, buf := range []*raster.PixelBuffer{a, b} {
		wg.Add(1)
		go func(buf *raster.PixelBuffer) {
			defer wg.Done()
			if _, err := s.Send(context.Background(), buf, Tag{}); err != nil {
				t.Error(err)
			}
		}(buf)
	}
	wg.Wait()

	r := Reassembler{}
	frames := []*Frame{}
	for _, m := range ch.messages() {
		f, err := r.Push(m)
		if err != nil {
			t.Fatal(err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	if len(frames) != 2 || r.Abandoned != 0 {
		t.Fatalf("expected two whole frames, got %d (abandoned %d)", len(frames), r.Abandoned)
	}
	for _, f := range frames {
		if err := f.Verify(); err != nil {
			t.Error(err)
		}
	}
}

func TestReassemblerRejectsBadHeader(t *testing.T) {
	r := Reassembler{}
	if _, err := r.Push([]byte{1, 2, 3}); errors.Cause(err) != ErrBadHeader {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
	bad := Header{Magic: headerMagic, Width: 2, Height: 2, Length: 15, ChunkSize: 4}
	msg, _ := bad.Marshal()
	if _, err := r.Push(msg); errors.Cause(err) != ErrBadHeader {
		t.Errorf("expected ErrBadHeader for inconsistent length, got %v", err)
	}
	if h, _ := r.Pending(); h != nil {
		t.Error("rejected header left a pending frame")
	}
}

func TestReassemblerRejectsOversizedHeaders(t *testing.T) {
	cases := map[string]string{
		"huge":        `{"magic":"deflect-frame/1","width":10000000,"height":10000000,"length":400000000000000,"chunkSize":64000}`,
		"wraps to 0":  `{"magic":"deflect-frame/1","width":2147483648,"height":2147483648,"length":0,"chunkSize":64000}`,
		"zero length": `{"magic":"deflect-frame/1","width":2,"height":2,"length":0,"chunkSize":64000}`,
		"no pixels":   `{"magic":"deflect-frame/1","width":0,"height":0,"length":0,"chunkSize":64000}`,
		"negative":    `{"magic":"deflect-frame/1","width":-4,"height":-4,"length":64,"chunkSize":64000}`,
	}
	for name, msg := range cases {
		r := Reassembler{}
		if _, err := r.Push([]byte(msg)); errors.Cause(err) != ErrBadHeader {
			t.Errorf("%s: expected ErrBadHeader, got %v", name, err)
		}
		if r.hdr != nil || r.buf != nil {
			t.Errorf("%s: rejected header reserved a frame", name)
		}
	}
}

func TestReassemblerFrameLimit(t *testing.T) {
	r := Reassembler{MaxFrameLength: 64}
	msg, _ := NewHeader(testFrame(t, 5, 4), Tag{}, 64).Marshal()
	if _, err := r.Push(msg); errors.Cause(err) != ErrBadHeader {
		t.Errorf("expected ErrBadHeader for an 80 byte frame over a 64 byte limit, got %v", err)
	}
	buf := testFrame(t, 4, 4)
	msg, _ = NewHeader(buf, Tag{}, 64).Marshal()
	if _, err := r.Push(msg); err != nil {
		t.Fatal(err)
	}
	f, err := r.Push(buf.Pix)
	if err != nil || f == nil {
		t.Fatalf("expected a frame at the limit, got %v %v", f, err)
	}
}

func TestReassemblerGrowsLargeFrames(t *testing.T) {
	buf := testFrame(t, 1100, 1000)
	msg, _ := NewHeader(buf, Tag{}, DefaultChunkSize).Marshal()
	r := Reassembler{}
	if _, err := r.Push(msg); err != nil {
		t.Fatal(err)
	}
	if c := cap(r.buf); c != maxPrealloc {
		t.Errorf("expected %d bytes reserved, got %d", maxPrealloc, c)
	}
	chunks, _ := Split(buf.Pix, DefaultChunkSize)
	var f *Frame
	for _, c := range chunks {
		var err error
		if f, err = r.Push(c); err != nil {
			t.Fatal(err)
		}
	}
	if f == nil || !bytes.Equal(f.Buffer.Pix, buf.Pix) {
		t.Error("large frame did not reassemble")
	}
}

func TestHeaderValidateLimitDefault(t *testing.T) {
	h := Header{Magic: headerMagic, Width: 8192, Height: 8192, Length: DefaultMaxFrameLength, ChunkSize: 1}
	if err := h.Validate(); err != nil {
		t.Errorf("expected the default limit to admit 8192x8192, got %v", err)
	}
	h.Width, h.Length = 8193, 8193*8192*4
	if err := h.ValidateLimit(0); errors.Cause(err) != ErrBadHeader {
		t.Errorf("expected ErrBadHeader past the default limit, got %v", err)
	}
}

func TestReassemblerOverrun(t *testing.T) {
	buf := testFrame(t, 1, 1)
	msg, _ := NewHeader(buf, Tag{}, 4).Marshal()
	r := Reassembler{}
	if _, err := r.Push(msg); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Push([]byte{1, 2, 3, 4, 5}); errors.Cause(err) != ErrOverrun {
		t.Errorf("expected ErrOverrun, got %v", err)
	}
	if h, _ := r.Pending(); h != nil {
		t.Error("overrun should reset the reassembler")
	}
}

func TestReassemblerDropsAbandonedFrame(t *testing.T) {
	first, second := testFrame(t, 2, 2), testFrame(t, 1, 1)
	h1, _ := NewHeader(first, Tag{}, 4).Marshal()
	h2, _ := NewHeader(second, Tag{}, 4).Marshal()
	r := Reassembler{}
	for _, m := range [][]byte{h1, first.Pix[:4], h2} {
		if f, err := r.Push(m); err != nil || f != nil {
			t.Fatalf("unexpected %v %v", f, err)
		}
	}
	if h, n := r.Pending(); h == nil || h.Length != 4 || n != 0 {
		t.Errorf("expected a fresh pending 1x1 frame, got %+v %d", h, n)
	}
	f, err := r.Push(second.Pix)
	if err != nil || f == nil {
		t.Fatalf("expected second frame, got %v %v", f, err)
	}
	if r.Abandoned != 1 {
		t.Errorf("expected one abandoned frame, got %d", r.Abandoned)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	buf := testFrame(t, 2, 2)
	f := Frame{Header: NewHeader(buf, Tag{}, 4), Buffer: buf.Clone()}
	f.Buffer.Pix[5] ^= 0xff
	if errors.Cause(f.Verify()) != ErrChecksum {
		t.Error("expected checksum mismatch")
	}
}
