package fade

import (
	"math"
	"testing"
)

func TestApplyEasingBounds(t *testing.T) {
	easings := []EasingType{
		EasingLinear,
		EasingInOutCubic,
		EasingInOutSine,
		EasingOutExponential,
		EasingBezier,
		EasingSCurve,
	}

	for _, easing := range easings {
		t.Run(string(easing), func(t *testing.T) {
			start := ApplyEasing(0, easing)
			end := ApplyEasing(1, easing)
			if math.Abs(start) > 0.01 {
				t.Errorf("ApplyEasing(0, %s) = %v, want ~0", easing, start)
			}
			if math.Abs(end-1) > 0.01 {
				t.Errorf("ApplyEasing(1, %s) = %v, want ~1", easing, end)
			}

			// Monotonic across the unit interval.
			prev := start
			for p := 0.05; p <= 1.0; p += 0.05 {
				v := ApplyEasing(p, easing)
				if v < prev-1e-9 {
					t.Errorf("ApplyEasing(%v, %s) = %v decreased from %v", p, easing, v, prev)
				}
				prev = v
			}
		})
	}
}

func TestApplyEasingLinearMidpoint(t *testing.T) {
	if got := ApplyEasing(0.5, EasingLinear); got != 0.5 {
		t.Errorf("linear midpoint = %v", got)
	}
	if got := ApplyEasing(0.5, EasingInOutSine); math.Abs(got-0.5) > 0.001 {
		t.Errorf("sine midpoint = %v, want ~0.5", got)
	}
	if got := ApplyEasing(0.5, EasingBezier); math.Abs(got-0.5) > 0.001 {
		t.Errorf("bezier midpoint = %v, want ~0.5", got)
	}
}

func TestInterpolate(t *testing.T) {
	if got := Interpolate(0, 100, 0.5, EasingLinear); got != 50 {
		t.Errorf("Interpolate midpoint = %v, want 50", got)
	}
	if got := Interpolate(100, 0, 1, EasingLinear); got != 0 {
		t.Errorf("Interpolate end = %v, want 0", got)
	}
	// Empty easing falls back to the sine default.
	if got := Interpolate(0, 100, 1, ""); math.Abs(got-100) > 0.001 {
		t.Errorf("Interpolate default easing end = %v, want 100", got)
	}
}
