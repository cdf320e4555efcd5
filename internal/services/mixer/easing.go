package mixer

import (
	"fmt"
	"math"
	"strings"
)

// Curve shapes timed crossfade transitions and the beat flash decay.
type Curve string

const (
	// CurveLinear moves at a constant rate.
	CurveLinear Curve = "LINEAR"
	// CurveInOutCubic accelerates then decelerates.
	CurveInOutCubic Curve = "EASE_IN_OUT_CUBIC"
	// CurveInOutSine is the default for manual transitions.
	CurveInOutSine Curve = "EASE_IN_OUT_SINE"
	// CurveOutExponential starts sharp and settles slowly.
	CurveOutExponential Curve = "EASE_OUT_EXPONENTIAL"
	// CurveSCurve is a normalized sigmoid.
	CurveSCurve Curve = "S_CURVE"
)

// ParseCurve accepts a curve name in any case. Empty selects CurveInOutSine.
func ParseCurve(s string) (Curve, error) {
	if s == "" {
		return CurveInOutSine, nil
	}
	switch c := Curve(strings.ToUpper(s)); c {
	case CurveLinear, CurveInOutCubic, CurveInOutSine, CurveOutExponential, CurveSCurve:
		return c, nil
	}
	return "", fmt.Errorf("unknown curve %q", s)
}

// Ease maps progress in [0,1] through the curve. Progress outside the range
// is clamped.
func Ease(progress float64, curve Curve) float64 {
	p := math.Max(0, math.Min(1, progress))

	switch curve {
	case CurveLinear:
		return p

	case CurveInOutCubic:
		if p < 0.5 {
			return 4 * p * p * p
		}
		q := -2*p + 2
		return 1 - q*q*q/2

	case CurveOutExponential:
		if p == 1 {
			return 1
		}
		return 1 - math.Pow(2, -10*p)

	case CurveSCurve:
		// Sigmoid rescaled so the endpoints land exactly on 0 and 1
		const k = 10.0
		lo := 1 / (1 + math.Exp(k*0.5))
		hi := 1 / (1 + math.Exp(-k*0.5))
		return (1/(1+math.Exp(-k*(p-0.5))) - lo) / (hi - lo)

	default:
		return -(math.Cos(math.Pi*p) - 1) / 2
	}
}

// Interpolate returns the eased value between start and end.
func Interpolate(start, end, progress float64, curve Curve) float64 {
	return start + (end-start)*Ease(progress, curve)
}
