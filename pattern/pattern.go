/*Package pattern synthesizes the full-frame structured light patterns shown by
a deflectometry screen.

Patterns are produced into raster.PixelBuffers.  A Generator carries the
frame size and the rig Geometry (lens housing mask, line width, device pixel
ratio); a Spec carries what to draw.  Everything left of the lens housing
offset is never illuminated and stays black.

The calibration ramp is the only stateful pattern.  Its level is passed in
and the advanced level handed back, so the caller owns the counter:

	gen := pattern.Generator{Width: 1440, Height: 1080, Geometry: pattern.DefaultGeometry()}
	cal := pattern.CalibrationState{}
	for !cal.Done() {
		buf, next, err := gen.Generate(pattern.Spec{Kind: pattern.CalibrationRamp}, cal)
		...
		cal = next
	}
*/
package pattern

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidSpec is generated when a Spec or Generator cannot produce a pattern
var ErrInvalidSpec = errors.New("pattern: invalid pattern spec")

// Kind enumerates the pattern families
type Kind int

const (
	// Black is an all black frame
	Black Kind = iota

	// White is a white frame, masked by the lens housing offset
	White

	// VerticalFringe is a sinusoid varying along x (vertical bands)
	VerticalFringe

	// HorizontalFringe is a sinusoid varying along y (horizontal bands)
	HorizontalFringe

	// VerticalLine is a set of discrete bright columns
	VerticalLine

	// HorizontalLine is a set of discrete bright rows
	HorizontalLine

	// CalibrationRamp is a uniform gray at the current calibration level
	CalibrationRamp
)

var (
	kindNames = map[Kind]string{
		Black:            "black",
		White:            "white",
		VerticalFringe:   "vertical-fringe",
		HorizontalFringe: "horizontal-fringe",
		VerticalLine:     "vertical-line",
		HorizontalLine:   "horizontal-line",
		CalibrationRamp:  "calibration",
	}

	// kindCodes are the numeric pattern types used in sequence_data tags
	kindCodes = map[Kind]int{
		White:            0,
		Black:            1,
		VerticalFringe:   2,
		HorizontalFringe: 3,
		VerticalLine:     4,
		HorizontalLine:   5,
		CalibrationRamp:  98,
	}
)

// String returns the lowercase hyphenated name of the kind
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code returns the numeric type code reported alongside transferred frames
func (k Kind) Code() int {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return -1
}

// Valid returns true if k is one of the defined kinds
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind converts a name as produced by String, or a numeric code, to a Kind.
// Matching is case insensitive.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	for k, code := range kindCodes {
		if fmt.Sprint(code) == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, s)
}

// MarshalText makes Kind encode as its name in JSON and YAML
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidSpec, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Spec describes a single pattern to synthesize
type Spec struct {
	// Kind is the pattern family
	Kind Kind `json:"kind"`

	// Frequency is the number of cycles (fringes) or lines across the frame.
	// Unused by Black, White, and CalibrationRamp.
	Frequency float64 `json:"frequency"`

	// PhaseShift is in radians.  Unused by Black, White, and CalibrationRamp.
	PhaseShift float64 `json:"phaseShift"`
}

// Validate checks that the spec can be drawn
func (s Spec) Validate() error {
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidSpec, int(s.Kind))
	}
	if math.IsNaN(s.Frequency) || math.IsInf(s.Frequency, 0) || s.Frequency < 0 {
		return fmt.Errorf("%w: frequency %v must be finite and non-negative", ErrInvalidSpec, s.Frequency)
	}
	if math.IsNaN(s.PhaseShift) || math.IsInf(s.PhaseShift, 0) {
		return fmt.Errorf("%w: phase shift %v must be finite", ErrInvalidSpec, s.PhaseShift)
	}
	return nil
}

// String prints the spec compactly for logs
func (s Spec) String() string {
	switch s.Kind {
	case Black, White, CalibrationRamp:
		return s.Kind.String()
	}
	return fmt.Sprintf("%s f=%g phase=%.4f", s.Kind, s.Frequency, s.PhaseShift)
}

// Geometry holds the process-wide constants of the display rig
type Geometry struct {
	// LensHousingOffset is the number of columns at the left edge that are
	// hidden by the camera housing and always left black.  Zero disables the mask.
	LensHousingOffset int `json:"lensHousingOffset"`

	// LineWidth is the width in pixels of each bar in the line patterns
	LineWidth int `json:"lineWidth"`

	// DevicePixelRatio scales spatial frequency from logical to physical
	// pixels.  Zero is treated as one.
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// DefaultGeometry returns the geometry of the reference rig: a 100 column
// lens housing mask and 10 pixel lines at unit pixel ratio
func DefaultGeometry() Geometry {
	return Geometry{LensHousingOffset: 100, LineWidth: 10, DevicePixelRatio: 1}
}

func (g Geometry) ratio() float64 {
	if g.DevicePixelRatio == 0 {
		return 1
	}
	return g.DevicePixelRatio
}

// Validate checks the geometry for impossible values
func (g Geometry) Validate() error {
	if g.LensHousingOffset < 0 {
		return fmt.Errorf("%w: lens housing offset %d is negative", ErrInvalidSpec, g.LensHousingOffset)
	}
	if g.LineWidth < 0 {
		return fmt.Errorf("%w: line width %d is negative", ErrInvalidSpec, g.LineWidth)
	}
	if math.IsNaN(g.DevicePixelRatio) || math.IsInf(g.DevicePixelRatio, 0) || g.DevicePixelRatio < 0 {
		return fmt.Errorf("%w: device pixel ratio %v must be finite and non-negative", ErrInvalidSpec, g.DevicePixelRatio)
	}
	return nil
}
