/*Package sequence drives the display through calibration and measurement
sequences, capturing and sending a frame at every step.

A Controller owns the calibration ramp level and the measurement counters.
Only one sequence runs at a time; a start request while one is active is
rejected with ErrSequenceActive.  A running sequence ticks once per Cadence:
it draws the next pattern, shows it, waits SettleDelay, reports the frame tag,
captures, and sends.  When the sequence is exhausted, or stopped, the screen
is blanked and the controller returns to Idle.
*/
package sequence

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spieswl/webrtc-perception/pattern"
)

var (
	// ErrSequenceActive is generated when a sequence or manual pattern is
	// requested while a sequence is running
	ErrSequenceActive = errors.New("sequence: a sequence is already running")

	// ErrClosed is generated after the controller has been closed
	ErrClosed = errors.New("sequence: controller closed")
)

// Mode is the controller's activity
type Mode int

const (
	// Idle is waiting for a trigger
	Idle Mode = iota

	// Calibrating is sweeping the calibration ramp
	Calibrating

	// Measuring is stepping through the fringe and line patterns
	Measuring
)

var modeNames = []string{"idle", "calibrating", "measuring"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText encodes a mode as its name
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText is the inverse of MarshalText
func (m *Mode) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	for i, name := range modeNames {
		if name == s {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("sequence: unknown mode %q", s)
}

// StepError describes a failed sequence step
type StepError struct {
	Mode  Mode
	Frame int
	Spec  pattern.Spec
	Err   error
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s step %d (%s): %v", e.Mode, e.Frame, e.Spec, e.Err)
}

// Unwrap returns the underlying error
func (e StepError) Unwrap() error { return e.Err }

// Cause returns the underlying error for github.com/pkg/errors
func (e StepError) Cause() error { return e.Err }

// Config holds the timing and tables of the controller
type Config struct {
	// SettleDelay is the wait between showing a pattern and capturing it
	SettleDelay time.Duration

	// Cadence is the interval between sequence steps
	Cadence time.Duration

	// BlackoutDelay is the wait after the last step before the screen is blanked
	BlackoutDelay time.Duration

	// FrequencyTable is the list of frequencies stepped through by a measurement
	FrequencyTable []float64

	// OnError is called for every failed step.  Returning true aborts the
	// sequence.  Nil continues, as does returning false.  It runs on the
	// sequence goroutine and must not call Stop.
	OnError func(StepError) bool

	// Logger receives step and error logs.  Nil logs to the standard logger.
	Logger *log.Logger
}

// DefaultFrequencyTable is the measurement frequency table of the reference rig
func DefaultFrequencyTable() []float64 {
	return []float64{1, 2, 2.5, 3, 3.5, 5}
}

// DefaultConfig returns the timings of the reference rig
func DefaultConfig() Config {
	return Config{
		SettleDelay:    1 * time.Second,
		Cadence:        10 * time.Second,
		BlackoutDelay:  500 * time.Millisecond,
		FrequencyTable: DefaultFrequencyTable()}
}

// Validate checks the config for values that would stall or spin the controller
func (c Config) Validate() error {
	if c.Cadence <= 0 {
		return fmt.Errorf("sequence: cadence %v must be positive", c.Cadence)
	}
	if c.SettleDelay < 0 || c.BlackoutDelay < 0 {
		return fmt.Errorf("sequence: delays must not be negative")
	}
	if len(c.FrequencyTable) == 0 {
		return fmt.Errorf("sequence: frequency table is empty")
	}
	for _, f := range c.FrequencyTable {
		if err := (pattern.Spec{Kind: pattern.VerticalFringe, Frequency: f}).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// State is a snapshot of the controller for observers
type State struct {
	Mode           Mode                     `json:"mode"`
	Calibration    pattern.CalibrationState `json:"calibration"`
	Measurement    MeasurementState         `json:"measurement"`
	Displayed      pattern.Spec             `json:"displayed"`
	DisplayedFrame int                      `json:"displayedFrame"`
	FramesSent     int                      `json:"framesSent"`
	LastError      string                   `json:"lastError,omitempty"`
}
