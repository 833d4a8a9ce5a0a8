// Package fusion selects one camera's facial action units per timestep and
// flattens them into the feature vector shared with the error classifier.
package fusion

import (
	"errors"
	"fmt"
)

// ActionUnits is the canonical action unit order. It is a wire contract with
// the classifier: changing it requires versioning both ends.
var ActionUnits = [NumUnits]string{
	"AU04", "AU06", "AU07", "AU10", "AU12", "AU14", "AU01", "AU02", "AU05",
	"AU09", "AU15", "AU17", "AU20", "AU23", "AU25", "AU26", "AU45",
}

// NumUnits is the number of tracked action units.
const NumUnits = 17

// Unit is one action unit measurement.
type Unit struct {
	Intensity  float64 `json:"intensity"`
	Occurrence float64 `json:"occurrence"`
}

// Reading is the facial analysis output for one camera frame.
// A frame without a detected face has confidence 0 and no units.
type Reading struct {
	Confidence float64         `json:"confidence"`
	Units      map[string]Unit `json:"action_units"`
}

// FeatureVector is the fused per-timestep input of the classifier.
type FeatureVector struct {
	Moving bool
	Units  [NumUnits]Unit
}

// Layout selects how a FeatureVector is flattened on the wire.
type Layout string

const (
	// LayoutPaired is motion flag + 17 × (intensity, occurrence): 35 values.
	LayoutPaired Layout = "paired"

	// LayoutIntensity is motion flag + 17 intensities: 18 values. Classifiers
	// trained on intensities only expect this form.
	LayoutIntensity Layout = "intensity"
)

// ErrUnknownLayout is returned for an unsupported vector layout name.
var ErrUnknownLayout = errors.New("fusion: unknown vector layout")

// ParseLayout validates a layout name.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutPaired, LayoutIntensity:
		return Layout(s), nil
	case "":
		return LayoutPaired, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLayout, s)
}

// Len returns the encoded vector length for the layout.
func (l Layout) Len() int {
	if l == LayoutIntensity {
		return 1 + NumUnits
	}
	return 1 + 2*NumUnits
}

// Flatten orders a reading's units canonically. Missing units are zero.
func Flatten(units map[string]Unit) [NumUnits]Unit {
	var out [NumUnits]Unit
	for i, name := range ActionUnits {
		out[i] = units[name]
	}
	return out
}

// Encode flattens the vector with the leading motion flag.
func (v FeatureVector) Encode(layout Layout) []float64 {
	out := make([]float64, 0, layout.Len())
	out = append(out, flag(v.Moving))
	for _, u := range v.Units {
		out = append(out, u.Intensity)
		if layout != LayoutIntensity {
			out = append(out, u.Occurrence)
		}
	}
	return out
}

// IsZero reports whether every unit is zero.
func (v FeatureVector) IsZero() bool {
	return v.Units == [NumUnits]Unit{}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
