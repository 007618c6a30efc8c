package pattern

import (
	"fmt"
	"math"

	"github.com/spieswl/webrtc-perception/mathx"
	"github.com/spieswl/webrtc-perception/raster"
	"github.com/spieswl/webrtc-perception/util"
)

// Generator draws patterns for a fixed frame size and rig geometry
type Generator struct {
	Geometry

	// Width is the frame width in pixels
	Width int

	// Height is the frame height in pixels
	Height int
}

// NewGenerator returns a generator for a width x height frame
func NewGenerator(width, height int, g Geometry) (*Generator, error) {
	gen := &Generator{Geometry: g, Width: width, Height: height}
	return gen, gen.validate()
}

func (g *Generator) validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: frame %dx%d", ErrInvalidSpec, g.Width, g.Height)
	}
	return g.Geometry.Validate()
}

// Generate draws spec into a new buffer.  cal is only consulted for
// CalibrationRamp, in which case the advanced state is returned; for every
// other kind cal is returned unchanged.
func (g *Generator) Generate(spec Spec, cal CalibrationState) (*raster.PixelBuffer, CalibrationState, error) {
	if err := g.validate(); err != nil {
		return nil, cal, err
	}
	if err := spec.Validate(); err != nil {
		return nil, cal, err
	}
	buf := g.black()
	switch spec.Kind {
	case Black:
	case White:
		g.fillIlluminated(buf, 255)
	case VerticalFringe:
		g.verticalFringe(buf, spec.Frequency, spec.PhaseShift)
	case HorizontalFringe:
		g.horizontalFringe(buf, spec.Frequency, spec.PhaseShift)
	case VerticalLine:
		g.verticalLines(buf, spec.Frequency, spec.PhaseShift)
	case HorizontalLine:
		g.horizontalLines(buf, spec.Frequency, spec.PhaseShift)
	case CalibrationRamp:
		g.fillIlluminated(buf, cal.Level)
		cal = cal.Advance()
	}
	return buf, cal, nil
}

// black allocates an opaque black frame.  validate has already run.
func (g *Generator) black() *raster.PixelBuffer {
	buf, _ := raster.New(g.Width, g.Height)
	buf.FillGray(0, 0, g.Width, g.Height, 0)
	return buf
}

// fillIlluminated paints every column right of the lens housing with v
func (g *Generator) fillIlluminated(buf *raster.PixelBuffer, v byte) {
	buf.FillGray(g.LensHousingOffset, 0, g.Width, g.Height, v)
}

// sinusoid maps a phase angle to an 8-bit intensity, rounded half-up
func sinusoid(angle float64) byte {
	v := 127.5*math.Sin(angle) + 127.5
	return byte(util.Clamp(mathx.Round(v, 1), 0, 255))
}

func (g *Generator) verticalFringe(buf *raster.PixelBuffer, frequency, phase float64) {
	scale := 2 * math.Pi * frequency * g.ratio() / float64(g.Width)
	for x := g.LensHousingOffset; x < g.Width; x++ {
		buf.FillGray(x, 0, x+1, g.Height, sinusoid(scale*float64(x)+phase))
	}
}

func (g *Generator) horizontalFringe(buf *raster.PixelBuffer, frequency, phase float64) {
	scale := 2 * math.Pi * frequency * g.ratio() / float64(g.Height)
	for y := 0; y < g.Height; y++ {
		buf.FillGray(g.LensHousingOffset, y, g.Width, y+1, sinusoid(scale*float64(y)+phase))
	}
}

// linePositions returns the start coordinate of each of the floor(frequency)
// bars spread over extent pixels
func (g *Generator) linePositions(extent int, frequency, phase float64) []int {
	count := int(math.Floor(frequency))
	if count <= 0 {
		return nil
	}
	span := float64(extent) / (frequency * g.ratio())
	shift := phase / (2 * math.Pi) * span
	out := make([]int, count)
	for i := range out {
		out[i] = mathx.RoundInt(float64(i)*span + shift)
	}
	return out
}

func (g *Generator) verticalLines(buf *raster.PixelBuffer, frequency, phase float64) {
	for _, start := range g.linePositions(g.Width, frequency, phase) {
		// bars that would start under the lens housing are dropped, not clipped
		if start < g.LensHousingOffset {
			continue
		}
		buf.FillGray(start, 0, start+g.LineWidth, g.Height, 255)
	}
}

func (g *Generator) horizontalLines(buf *raster.PixelBuffer, frequency, phase float64) {
	for _, start := range g.linePositions(g.Height, frequency, phase) {
		if start < 0 {
			continue
		}
		buf.FillGray(g.LensHousingOffset, start, g.Width, start+g.LineWidth, 255)
	}
}
