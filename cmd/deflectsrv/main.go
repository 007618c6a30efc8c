package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	"github.com/spieswl/webrtc-perception/generichttp"
	"github.com/spieswl/webrtc-perception/receiver"
	"github.com/spieswl/webrtc-perception/transfer"
	"github.com/spieswl/webrtc-perception/util"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "deflectsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `deflectsrv drives a deflectometry rig: it shows structured light patterns,
captures the camera's view of them, and ships each frame in chunks to a
receive node.  Sequences are triggered over HTTP or MQTT.

Usage:
	deflectsrv <command>

Commands:
	run
	listen
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `deflectsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

"mkconf" writes deflectsrv.yml with the defaults of the reference rig.

run serves the display node under /display.  When Channel.Peer is empty,
frames go to a receive node in the same process, served under /receive.
Otherwise they are sent over a websocket to Peer, which is typically another
deflectsrv started with "listen", e.g. ws://host:8000/receive/channel.

With Mock: true the camera is replaced by a copy of the pattern on screen.
Otherwise Capture.Device selects an OpenCV camera; the binary must be built
with -tags gocv for this to work.

If MQTT.Broker is set, the topics image_request, calib_request,
sequence_request, and stop_request (under MQTT.Prefix) trigger the
controller, and sequence_data and photo_dimensions are published for every
frame.

Durations are integer milliseconds (SettleDelayMs, SequenceCadenceMs,
BlackoutDelayMs, InterChunkDelayMs).  FrequencyTable is the list of fringe
frequencies stepped through by a measurement.

GET /endpoints lists every route of every node.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("deflectsrv version %v\n", Version)
}

func run() {
	c := loadconfig()
	rig, err := BuildRig(c)
	if err != nil {
		log.Fatal(err)
	}
	defer rig.Close()
	log.Printf("display %dx%d, frequencies %s", c.Width, c.Height, util.FloatSliceToCSV(c.FrequencyTable))
	mux := BuildMux(rig)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func spinnerMessage(st receiver.Stats) string {
	if st.Frames == 0 {
		return "no frames yet"
	}
	tag := st.LastTag
	return fmt.Sprintf("%d frames, %d errors, last %s f=%g #%d", st.Frames, st.Errors+st.BadCRC, tag.Kind, tag.Frequency, tag.FrameIndex)
}

// listen serves only a receive node, showing progress on the terminal
func listen() {
	c := loadconfig()
	if err := c.Validate(); err != nil {
		log.Fatal(err)
	}
	rcv := newReceiver(c)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " receiving",
		SuffixAutoColon: true,
		Message:         spinnerMessage(rcv.Stats()),
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}
	rcv.OnFrame = func(*transfer.Frame) {
		spinner.Message(spinnerMessage(rcv.Stats()))
	}

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	r := chi.NewRouter()
	rcv.RT().Bind(r)
	hndlS := generichttp.SubMuxSanitize("receive")
	root.Mount(hndlS, r)

	srv := &http.Server{Addr: c.Addr, Handler: root}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	if err := spinner.Start(); err != nil {
		log.Println(err)
	}
	err = <-errs
	spinner.StopFailMessage(err.Error())
	spinner.StopFail()
	srv.Shutdown(context.Background())
	log.Fatal(err)
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "listen":
		listen()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
