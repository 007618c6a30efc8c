package remote

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/capture"
	"github.com/spieswl/webrtc-perception/channel"
	"github.com/spieswl/webrtc-perception/generichttp"
	"github.com/spieswl/webrtc-perception/generichttp/frames"
	"github.com/spieswl/webrtc-perception/pattern"
	"github.com/spieswl/webrtc-perception/sequence"
	"github.com/spieswl/webrtc-perception/transfer"
)

// Controller is a Handler that can also show patterns and report its state
type Controller interface {
	Handler
	Show(pattern.Spec) error
	State() sequence.State
}

// HTTPController exposes a Controller and its screen over HTTP
type HTTPController struct {
	Ctl    Controller
	Screen frames.Source

	RouteTable generichttp.RouteTable
}

// NewHTTPController builds the route table for the display node
func NewHTTPController(ctl Controller, screen frames.Source) HTTPController {
	h := HTTPController{Ctl: ctl, Screen: screen}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/image-request"}: h.Command(RequestImage),
		{Method: http.MethodPost, Path: "/calibration"}:   h.Command(RequestCalibration),
		{Method: http.MethodPost, Path: "/sequence"}:      h.Command(RequestSequence),
		{Method: http.MethodPost, Path: "/stop"}:          h.Command(Stop),
		{Method: http.MethodPost, Path: "/command"}:       h.Event,
		{Method: http.MethodGet, Path: "/state"}:          h.GetState,
		{Method: http.MethodGet, Path: "/pattern"}:        frames.GetFrame(screen),
		{Method: http.MethodPost, Path: "/pattern"}:       h.SetPattern,
		{Method: http.MethodGet, Path: "/presets"}:        h.GetPresets,
		{Method: http.MethodPost, Path: "/preset"}:        generichttp.SetString(h.showPreset),
		{Method: http.MethodGet, Path: "/mode"}: generichttp.GetString(func() (string, error) {
			return ctl.State().Mode.String(), nil
		}),
		{Method: http.MethodGet, Path: "/calibration/level"}: generichttp.GetInt(func() (int, error) {
			return int(ctl.State().Calibration.Level), nil
		}),
		{Method: http.MethodGet, Path: "/frames-sent"}: generichttp.GetInt(func() (int, error) {
			return ctl.State().FramesSent, nil
		}),
		{Method: http.MethodGet, Path: "/pattern/frequency"}: generichttp.GetFloat(func() (float64, error) {
			return ctl.State().Displayed.Frequency, nil
		}),
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h HTTPController) RT() generichttp.RouteTable {
	return h.RouteTable
}

// StatusFor maps controller errors to HTTP status codes.  It follows both
// pkg/errors and fmt %w wrapping.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, sequence.ErrSequenceActive):
		return http.StatusConflict
	case errors.Is(err, pattern.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrCaptureUnavailable),
		errors.Is(err, transfer.ErrChannelUnavailable),
		errors.Is(err, transfer.ErrChannelClosed),
		errors.Is(err, channel.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, sequence.ErrClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusFor(err))
}

// Command returns a handler that dispatches cmd
func (h HTTPController) Command(cmd Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := Dispatch(r.Context(), h.Ctl, cmd); err != nil {
			respondErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Event dispatches a command named by {"str": "<event>"}, the same names
// used as MQTT topics
func (h HTTPController) Event(w http.ResponseWriter, r *http.Request) {
	s := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd, err := ParseCommand(s.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Command(cmd)(w, r)
}

// GetState writes the controller state as JSON
func (h HTTPController) GetState(w http.ResponseWriter, r *http.Request) {
	generichttp.EncodeJSON(w, h.Ctl.State())
}

// SetPattern shows the pattern.Spec in the request body
func (h HTTPController) SetPattern(w http.ResponseWriter, r *http.Request) {
	spec := pattern.Spec{}
	err := json.NewDecoder(r.Body).Decode(&spec)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.Ctl.Show(spec); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetPresets lists the preset names
func (h HTTPController) GetPresets(w http.ResponseWriter, r *http.Request) {
	generichttp.EncodeJSON(w, pattern.PresetNames())
}

func (h HTTPController) showPreset(name string) error {
	spec, err := pattern.Preset(name)
	if err != nil {
		return err
	}
	return h.Ctl.Show(spec)
}
