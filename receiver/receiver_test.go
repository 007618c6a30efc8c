package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/spieswl/webrtc-perception/channel"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/raster"
	"github.com/spieswl/webrtc-perception/transfer"
)

func frame(t *testing.T, w, h int, v byte) *raster.PixelBuffer {
	t.Helper()
	buf, err := raster.New(w, h)
	if err != nil {
		t.Fatal(err)
	}
	buf.FillGray(0, 0, w, h, v)
	return buf
}

func TestRunKeepsRecentFrames(t *testing.T) {
	local, remote := channel.Pipe(32)
	r := New(2, 64, true)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), remote) }()

	s := transfer.NewSender(local, 64, 0)
	for i, v := range []byte{10, 20, 30} {
		if _, err := s.Send(context.Background(), frame(t, 4, 4, v), transfer.NewTag(pattern.VerticalFringe, 2, i)); err != nil {
			t.Fatal(err)
		}
	}
	local.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after close")
	}

	st := r.Stats()
	if st.Frames != 3 || st.Bytes != 3*64 || st.LastTag.FrameIndex != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
	stack, err := r.Stack()
	if err != nil {
		t.Fatal(err)
	}
	if len(stack) != 2 || stack[0].Pix[0] != 20 || stack[1].Pix[0] != 30 {
		t.Errorf("expected the last two frames oldest first")
	}
	latest, _ := r.Frame()
	if latest.Pix[0] != 30 {
		t.Errorf("expected latest frame value 30, got %d", latest.Pix[0])
	}
	cards := r.CollectHeaderMetadata()
	if len(cards) == 0 || cards[1].Value != "vertical-fringe" {
		t.Errorf("unexpected metadata %+v", cards)
	}
}

func TestVerifyDropsCorruptFrames(t *testing.T) {
	local, remote := channel.Pipe(8)
	r := New(4, 64, true)
	buf := frame(t, 2, 2, 50)
	hdr := transfer.NewHeader(buf, transfer.Tag{}, 64)
	msg, _ := hdr.Marshal()
	local.Send(msg)
	bad := buf.Clone()
	bad.Pix[0] = 51
	local.Send(bad.Pix)
	local.Close()
	if err := r.Run(context.Background(), remote); err != nil {
		t.Fatal(err)
	}
	st := r.Stats()
	if st.BadCRC != 1 || st.Frames != 0 {
		t.Errorf("expected one rejected frame, got %+v", st)
	}
	if _, err := r.Latest(); err != ErrNoFrame {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
}

func TestRunCountsGarbage(t *testing.T) {
	local, remote := channel.Pipe(8)
	r := New(1, 64, false)
	local.Send([]byte("not a header"))
	local.Close()
	if err := r.Run(context.Background(), remote); err != nil {
		t.Fatal(err)
	}
	if st := r.Stats(); st.Errors != 1 {
		t.Errorf("expected one error, got %+v", st)
	}
}

func TestRunSurvivesOversizedHeader(t *testing.T) {
	local, remote := channel.Pipe(8)
	r := New(1, 64, false)
	r.MaxFrameLength = 64
	local.Send([]byte(`{"magic":"deflect-frame/1","width":10000000,"height":10000000,"length":400000000000000,"chunkSize":64000}`))
	big, _ := transfer.NewHeader(frame(t, 8, 8, 1), transfer.Tag{}, 64).Marshal()
	local.Send(big)
	buf := frame(t, 4, 4, 9)
	hdr, _ := transfer.NewHeader(buf, transfer.Tag{}, 64).Marshal()
	local.Send(hdr)
	local.Send(buf.Pix)
	local.Close()
	if err := r.Run(context.Background(), remote); err != nil {
		t.Fatal(err)
	}
	st := r.Stats()
	if st.Errors != 2 || st.Frames != 1 {
		t.Errorf("expected two rejected headers and one frame, got %+v", st)
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	r := New(4, 128, true)
	got := make(chan *transfer.Frame, 1)
	r.OnFrame = func(f *transfer.Frame) { got <- f }
	mux := chi.NewRouter()
	r.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := channel.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/channel", 128, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	buf := frame(t, 12, 9, 77)
	if _, err := transfer.NewSender(ws, 128, 0).Send(ctx, buf, transfer.NewTag(pattern.White, 0, 0)); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-got:
		if !bytes.Equal(f.Buffer.Pix, buf.Pix) {
			t.Error("frame differs")
		}
	case <-ctx.Done():
		t.Fatal("timed out")
	}

	resp, err := http.Get(srv.URL + "/frames/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	st := Stats{}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Frames != 1 || st.LastTag.Kind != pattern.White {
		t.Errorf("unexpected stats %+v", st)
	}

	raw, err := http.Get(srv.URL + "/frames/latest?fmt=raw")
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Body.Close()
	if raw.Header.Get("X-Width") != "12" {
		t.Errorf("unexpected width header %q", raw.Header.Get("X-Width"))
	}
}

func TestLatestBeforeAnyFrame(t *testing.T) {
	r := New(1, 64, false)
	w := httptest.NewRecorder()
	mux := chi.NewRouter()
	r.RT().Bind(mux)
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frames/latest", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
