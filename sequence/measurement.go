package sequence

import (
	"math"

	"github.com/spieswl/webrtc-perception/pattern"
)

// PhaseSteps is the number of phase shifted frames taken per frequency
const PhaseSteps = 4

// MeasurementKinds are the pattern families of a measurement, in order
var MeasurementKinds = []pattern.Kind{pattern.VerticalFringe, pattern.VerticalLine}

// MeasurementState is the position of a measurement sequence: pattern
// family (outer), frequency (middle), phase step (inner)
type MeasurementState struct {
	TypeIndex      int     `json:"typeIndex"`
	FrequencyIndex int     `json:"frequencyIndex"`
	PhaseShift     float64 `json:"phaseShift"`
	FrameIndex     int     `json:"frameIndex"`
}

// Spec is the pattern for the current position
func (m MeasurementState) Spec(table []float64) pattern.Spec {
	return pattern.Spec{
		Kind:       MeasurementKinds[m.TypeIndex],
		Frequency:  table[m.FrequencyIndex],
		PhaseShift: m.PhaseShift}
}

// Advance moves to the next phase step, rolling over into the next
// frequency and then the next family.  done is true once every family has
// been stepped through, in which case the zero state is returned.
func (m MeasurementState) Advance(table []float64) (next MeasurementState, done bool) {
	m.FrameIndex++
	if m.FrameIndex == PhaseSteps {
		m.FrameIndex = 0
		m.FrequencyIndex++
		if m.FrequencyIndex == len(table) {
			m.FrequencyIndex = 0
			m.TypeIndex++
			if m.TypeIndex == len(MeasurementKinds) {
				return MeasurementState{}, true
			}
		}
	}
	m.PhaseShift = float64(m.FrameIndex) * math.Pi / 2
	return m, false
}

// MeasurementFrames is the number of frames in a full measurement
func MeasurementFrames(table []float64) int {
	return len(MeasurementKinds) * len(table) * PhaseSteps
}
