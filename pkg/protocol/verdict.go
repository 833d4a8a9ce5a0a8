package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the classifier's per-timestep reply. The fields are kept as the
// raw numbers received so telemetry records exactly what the classifier sent.
type Verdict struct {
	Moving        float64 `json:"moving"`         // motion flag echoed back
	ErrorTimestep float64 `json:"error_timestep"` // 1 when this timestep looks erroneous
	Confidence    float64 `json:"confidence"`     // classifier confidence for ErrorTimestep
	NewError      float64 `json:"new_error"`      // 1 when a new error event starts here
}

// IsNewError reports whether the verdict opens a new error event.
func (v Verdict) IsNewError() bool {
	return v.NewError == 1
}

// IsErrorTimestep reports whether the timestep was classified as an error.
func (v Verdict) IsErrorTimestep() bool {
	return v.ErrorTimestep == 1
}

// Fields returns the verdict in wire order.
func (v Verdict) Fields() [4]float64 {
	return [4]float64{v.Moving, v.ErrorTimestep, v.Confidence, v.NewError}
}

// String encodes the verdict as "m,e,c,n".
func (v Verdict) String() string {
	f := v.Fields()
	parts := make([]string, len(f))
	for i, x := range f {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseVerdict decodes "m,e,c,n". Field order is positional.
func ParseVerdict(s string) (Verdict, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return Verdict{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedVerdict, len(parts))
	}
	var f [4]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Verdict{}, fmt.Errorf("%w: field %d: %q", ErrMalformedVerdict, i, p)
		}
		f[i] = x
	}
	return Verdict{Moving: f[0], ErrorTimestep: f[1], Confidence: f[2], NewError: f[3]}, nil
}
