package pattern

const (
	// firstCalibrationStep is the increment taken from level zero
	firstCalibrationStep = 15

	// calibrationStep is the increment taken from every other level
	calibrationStep = 16

	// CalibrationSteps is the number of ramp frames from level 0 until the
	// level reaches 255
	CalibrationSteps = 16
)

// CalibrationState is the gray level of the next calibration ramp frame
type CalibrationState struct {
	Level uint8 `json:"level"`
}

// Advance returns the state following c: +15 from zero, +16 otherwise,
// saturating at 255
func (c CalibrationState) Advance() CalibrationState {
	step := calibrationStep
	if c.Level == 0 {
		step = firstCalibrationStep
	}
	next := int(c.Level) + step
	if next > 255 {
		next = 255
	}
	return CalibrationState{Level: uint8(next)}
}

// Done is true once the ramp has reached full brightness
func (c CalibrationState) Done() bool {
	return c.Level == 255
}
