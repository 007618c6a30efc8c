package pattern

import (
	"fmt"
	"math"
	"sort"
)

// presets are the patterns offered for manual display on the rig
var presets = map[string]Spec{
	"white":  {Kind: White},
	"black":  {Kind: Black},
	"fringe": {Kind: VerticalFringe, Frequency: 10},
	"line":   {Kind: VerticalLine, Frequency: 2, PhaseShift: math.Pi},
}

// Preset looks up a named preset pattern
func Preset(name string) (Spec, error) {
	s, ok := presets[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: no preset named %q", ErrInvalidSpec, name)
	}
	return s, nil
}

// PresetNames lists the preset names in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
