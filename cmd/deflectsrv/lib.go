package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"

	"github.com/spieswl/webrtc-perception/capture"
	"github.com/spieswl/webrtc-perception/channel"
	"github.com/spieswl/webrtc-perception/generichttp"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/receiver"
	"github.com/spieswl/webrtc-perception/remote"
	"github.com/spieswl/webrtc-perception/sequence"
	"github.com/spieswl/webrtc-perception/server/middleware/locker"
	"github.com/spieswl/webrtc-perception/transfer"
	"github.com/spieswl/webrtc-perception/util"
)

// CaptureConfig describes the camera
type CaptureConfig struct {
	// Device is the OpenCV device index.  Negative disables the camera,
	// in which case RequestImage and sequences fail unless Mock is set.
	Device int `koanf:"Device" yaml:"Device"`

	// Width and Height are requested from the device
	Width  int `koanf:"Width" yaml:"Width"`
	Height int `koanf:"Height" yaml:"Height"`

	// ResizeWidth and ResizeHeight, if both nonzero, resample every
	// captured frame before it is sent
	ResizeWidth  int `koanf:"ResizeWidth" yaml:"ResizeWidth"`
	ResizeHeight int `koanf:"ResizeHeight" yaml:"ResizeHeight"`
}

// ChannelConfig describes where frames are sent
type ChannelConfig struct {
	// Peer is the websocket URL of a remote receive node, e.g.
	// ws://10.0.0.5:8000/receive/channel.  Empty sends to the receive node
	// inside this process.
	Peer string `koanf:"Peer" yaml:"Peer"`

	// DialTimeoutMs bounds the retries when connecting to Peer
	DialTimeoutMs int `koanf:"DialTimeoutMs" yaml:"DialTimeoutMs"`

	// QueueDepth is the message capacity of the in-process channel
	QueueDepth int `koanf:"QueueDepth" yaml:"QueueDepth"`
}

// ReceiveConfig describes the receive node
type ReceiveConfig struct {
	// Depth is the number of recent frames kept for /frames/stack
	Depth int `koanf:"Depth" yaml:"Depth"`

	// Verify drops frames whose CRC does not match their header
	Verify bool `koanf:"Verify" yaml:"Verify"`

	// MaxFrameBytes is the largest frame a sender may announce
	MaxFrameBytes int `koanf:"MaxFrameBytes" yaml:"MaxFrameBytes"`
}

func newReceiver(c Config) *receiver.Receiver {
	rcv := receiver.New(c.Receive.Depth, c.ChunkSize, c.Receive.Verify)
	rcv.MaxFrameLength = c.Receive.MaxFrameBytes
	return rcv
}

// Config is the complete configuration of a deflectsrv instance
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces the camera with a mirror of the pattern framebuffer
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// Width and Height are the display size in pixels
	Width  int `koanf:"Width" yaml:"Width"`
	Height int `koanf:"Height" yaml:"Height"`

	ChunkSize           int       `koanf:"ChunkSize" yaml:"ChunkSize"`
	SettleDelayMs       int       `koanf:"SettleDelayMs" yaml:"SettleDelayMs"`
	SequenceCadenceMs   int       `koanf:"SequenceCadenceMs" yaml:"SequenceCadenceMs"`
	BlackoutDelayMs     int       `koanf:"BlackoutDelayMs" yaml:"BlackoutDelayMs"`
	InterChunkDelayMs   int       `koanf:"InterChunkDelayMs" yaml:"InterChunkDelayMs"`
	FrequencyTable      []float64 `koanf:"FrequencyTable" yaml:"FrequencyTable"`
	LineWidthPx         int       `koanf:"LineWidthPx" yaml:"LineWidthPx"`
	LensHousingOffsetPx int       `koanf:"LensHousingOffsetPx" yaml:"LensHousingOffsetPx"`
	DevicePixelRatio    float64   `koanf:"DevicePixelRatio" yaml:"DevicePixelRatio"`

	Capture CaptureConfig     `koanf:"Capture" yaml:"Capture"`
	Channel ChannelConfig     `koanf:"Channel" yaml:"Channel"`
	Receive ReceiveConfig     `koanf:"Receive" yaml:"Receive"`
	MQTT    remote.MQTTConfig `koanf:"MQTT" yaml:"MQTT"`
}

// DefaultConfig is the configuration of the reference rig
func DefaultConfig() Config {
	geom := pattern.DefaultGeometry()
	seq := sequence.DefaultConfig()
	return Config{
		Addr:                ":8000",
		Mock:                true,
		Width:               1440,
		Height:              1080,
		ChunkSize:           transfer.DefaultChunkSize,
		SettleDelayMs:       int(seq.SettleDelay.Milliseconds()),
		SequenceCadenceMs:   int(seq.Cadence.Milliseconds()),
		BlackoutDelayMs:     int(seq.BlackoutDelay.Milliseconds()),
		InterChunkDelayMs:   int(transfer.DefaultInterChunkDelay.Milliseconds()),
		FrequencyTable:      seq.FrequencyTable,
		LineWidthPx:         geom.LineWidth,
		LensHousingOffsetPx: geom.LensHousingOffset,
		DevicePixelRatio:    geom.DevicePixelRatio,
		Capture:             CaptureConfig{Device: -1, Width: 1280, Height: 720},
		Channel:             ChannelConfig{DialTimeoutMs: 10000, QueueDepth: 256},
		Receive:             ReceiveConfig{Depth: 8, Verify: true, MaxFrameBytes: transfer.DefaultMaxFrameLength},
		MQTT:                remote.MQTTConfig{ClientID: "deflectsrv", QoS: 1},
	}
}

// Geometry is the pattern geometry of the config
func (c Config) Geometry() pattern.Geometry {
	return pattern.Geometry{
		LensHousingOffset: c.LensHousingOffsetPx,
		LineWidth:         c.LineWidthPx,
		DevicePixelRatio:  c.DevicePixelRatio}
}

// Sequence is the controller config of the config
func (c Config) Sequence() sequence.Config {
	return sequence.Config{
		SettleDelay:    util.MillisToDuration(c.SettleDelayMs),
		Cadence:        util.MillisToDuration(c.SequenceCadenceMs),
		BlackoutDelay:  util.MillisToDuration(c.BlackoutDelayMs),
		FrequencyTable: c.FrequencyTable}
}

// Validate checks the config before anything is opened
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("display size %dx%d must be positive", c.Width, c.Height)
	}
	if c.ChunkSize < 1 {
		return errors.Wrapf(transfer.ErrBadChunkSize, "ChunkSize %d", c.ChunkSize)
	}
	if c.InterChunkDelayMs < 0 {
		return fmt.Errorf("InterChunkDelayMs %d must not be negative", c.InterChunkDelayMs)
	}
	if err := c.Geometry().Validate(); err != nil {
		return err
	}
	if err := c.Sequence().Validate(); err != nil {
		return err
	}
	if (c.Capture.ResizeWidth == 0) != (c.Capture.ResizeHeight == 0) {
		return fmt.Errorf("capture resize %dx%d must set both or neither", c.Capture.ResizeWidth, c.Capture.ResizeHeight)
	}
	if c.Receive.Depth < 1 {
		return fmt.Errorf("receive depth %d must be at least 1", c.Receive.Depth)
	}
	if c.Receive.MaxFrameBytes < 1 {
		return fmt.Errorf("receive MaxFrameBytes %d must be positive", c.Receive.MaxFrameBytes)
	}
	return nil
}

// Rig is a display node and, when frames stay in process, a receive node
type Rig struct {
	Screen     *sequence.Framebuffer
	Controller *sequence.Controller
	Receiver   *receiver.Receiver
	MQTT       *remote.MQTT

	device capture.Device
	conn   transfer.Channel
	cancel context.CancelFunc
}

func buildSource(c Config, screen capture.Screen) (capture.Source, capture.Device, error) {
	var (
		src capture.Source
		dev capture.Device
	)
	switch {
	case c.Mock:
		src = capture.Mirror{Screen: screen}
	case c.Capture.Device >= 0:
		cam := capture.NewWebcam(c.Capture.Device, c.Capture.Width, c.Capture.Height)
		if err := cam.Initialize(); err != nil {
			return nil, nil, err
		}
		src, dev = cam, cam
	default:
		return nil, nil, nil
	}
	if c.Capture.ResizeWidth > 0 {
		src = capture.Resize{Source: src, Width: c.Capture.ResizeWidth, Height: c.Capture.ResizeHeight}
	}
	return src, dev, nil
}

// BuildRig opens everything the config describes
func BuildRig(c Config) (*Rig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	gen, err := pattern.NewGenerator(c.Width, c.Height, c.Geometry())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	rig := &Rig{Screen: &sequence.Framebuffer{}, cancel: cancel}
	fail := func(err error) (*Rig, error) {
		rig.Close()
		return nil, err
	}

	src, dev, err := buildSource(c, rig.Screen)
	if err != nil {
		return fail(err)
	}
	rig.device = dev

	if c.Channel.Peer == "" {
		local, far := channel.Pipe(c.Channel.QueueDepth)
		rig.conn = local
		rig.Receiver = newReceiver(c)
		go func() {
			if err := rig.Receiver.Run(ctx, far); err != nil {
				log.Println("receiver stopped:", err)
			}
		}()
	} else {
		ws, err := channel.Dial(ctx, c.Channel.Peer, c.ChunkSize, util.MillisToDuration(c.Channel.DialTimeoutMs))
		if err != nil {
			return fail(err)
		}
		rig.conn = ws
	}
	sender := transfer.NewSender(rig.conn, c.ChunkSize, util.MillisToDuration(c.InterChunkDelayMs))

	reporters := remote.Reporters{remote.LogReporter{Logger: log.New(os.Stderr, "report ", log.LstdFlags)}}
	if c.MQTT.Broker != "" {
		m, err := remote.Dial(c.MQTT)
		if err != nil {
			return fail(err)
		}
		rig.MQTT = m
		reporters = append(reporters, m)
	}

	rig.Controller, err = sequence.New(c.Sequence(), gen, rig.Screen, src, sender, reporters)
	if err != nil {
		return fail(err)
	}
	if rig.MQTT != nil {
		if err := rig.MQTT.Subscribe(ctx, rig.Controller); err != nil {
			return fail(err)
		}
	}
	return rig, nil
}

// Close stops the sequence and releases the camera, channel, and broker
func (r *Rig) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if r.Controller != nil {
		keep(r.Controller.Close())
	}
	if r.MQTT != nil {
		keep(r.MQTT.Close())
	}
	if r.conn != nil {
		keep(r.conn.Close())
	}
	if r.device != nil {
		keep(r.device.Finalize())
	}
	r.cancel()
	return first
}

// displayUnlocked are the display node paths that stay reachable while a
// sequence runs.  Matching is by substring, so "pattern" also admits POST
// /pattern, which the controller itself refuses with 409 mid sequence.
var displayUnlocked = []string{"stop", "state", "mode", "frames-sent", "level", "endpoints", "image-request", "pattern"}

func mount(root chi.Router, supergraph map[string][]string, endpoint string, httper generichttp.HTTPer, lock locker.ManipulableLock) {
	// "display" => "/display"
	hndlS := generichttp.SubMuxSanitize(endpoint)
	if lock != nil {
		locker.Inject(httper, lock)
	}
	rt := httper.RT()
	supergraph[hndlS] = rt.Endpoints()
	r := chi.NewRouter()
	if lock != nil {
		r.Use(lock.Check)
	}
	rt.Bind(r)
	root.Mount(hndlS, r)
}

// BuildMux serves the rig's display node on /display and, if present, its
// receive node on /receive
func BuildMux(rig *Rig) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	if rig.Controller != nil {
		lock := locker.NewBusy(rig.Controller.Active, displayUnlocked...)
		mount(root, supergraph, "display", remote.NewHTTPController(rig.Controller, rig.Screen), lock)
	}
	if rig.Receiver != nil {
		mount(root, supergraph, "receive", rig.Receiver, nil)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
