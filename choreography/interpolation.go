package choreography

import "fmt"

// Easing selects the motion profile applied within each segment.
type Easing string

const (
	EasingNone  Easing = "none"
	EasingIn    Easing = "ease_in"
	EasingOut   Easing = "ease_out"
	EasingInOut Easing = "ease_in_out"
)

// ParseEasing converts a string option into an Easing.
func ParseEasing(s string) (Easing, error) {
	switch Easing(s) {
	case EasingNone, EasingIn, EasingOut, EasingInOut:
		return Easing(s), nil
	case "":
		return EasingNone, nil
	}
	return EasingNone, fmt.Errorf("unknown easing %q", s)
}

// applyEasing maps a linear segment fraction through a cubic ease curve.
func applyEasing(t float64, easing Easing) float64 {
	switch easing {
	case EasingIn:
		// slow start, fast end
		return t * t * t
	case EasingOut:
		// fast start, slow end
		t1 := 1 - t
		return 1 - t1*t1*t1
	case EasingInOut:
		// slow start and end
		if t < 0.5 {
			return 4 * t * t * t
		}
		t1 := -2*t + 2
		return 1 - t1*t1*t1/2
	default:
		return t
	}
}

func lerp(start, end, t float64) float64 {
	return start + (end-start)*t
}

// catmullRom evaluates a Catmull-Rom segment. The curve passes exactly
// through p1 at t=0 and p2 at t=1, with tangents from p0 and p3.
func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * ((2 * p1) +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// Interpolator evaluates joint positions at arbitrary times over a set of
// (time, joints) control points.
type Interpolator interface {
	// Interpolate returns the joint positions at time t, with easing
	// applied to the local segment fraction. Times outside the control
	// range clamp to the nearest endpoint.
	Interpolate(t float64, easing Easing) [NumJoints]float64
}

// controlPoints is the shared (times, positions) table plus segment lookup.
type controlPoints struct {
	times     []float64
	positions [][NumJoints]float64
}

func newControlPoints(times []float64, positions [][NumJoints]float64) (controlPoints, error) {
	if len(times) != len(positions) {
		return controlPoints{}, fmt.Errorf("times and positions must have same length, got %d and %d", len(times), len(positions))
	}
	if len(times) < 2 {
		return controlPoints{}, fmt.Errorf("need at least 2 control points for interpolation, got %d", len(times))
	}
	return controlPoints{times: times, positions: positions}, nil
}

// findSegment locates the segment containing t and the local fraction
// within it, clamping to the first or last segment outside the range.
func (cp *controlPoints) findSegment(t float64) (int, float64) {
	n := len(cp.times)
	if t <= cp.times[0] {
		return 0, 0.0
	}
	if t >= cp.times[n-1] {
		return n - 2, 1.0
	}

	for i := 0; i < n-1; i++ {
		if cp.times[i] <= t && t < cp.times[i+1] {
			duration := cp.times[i+1] - cp.times[i]
			if duration <= 0 {
				return i, 0.0
			}
			return i, (t - cp.times[i]) / duration
		}
	}
	return n - 2, 1.0
}

// LinearInterpolator interpolates linearly between control points.
type LinearInterpolator struct {
	controlPoints
}

// NewLinearInterpolator builds a linear interpolator over the control
// points. Times must be ascending.
func NewLinearInterpolator(times []float64, positions [][NumJoints]float64) (*LinearInterpolator, error) {
	cp, err := newControlPoints(times, positions)
	if err != nil {
		return nil, err
	}
	return &LinearInterpolator{cp}, nil
}

func (li *LinearInterpolator) Interpolate(t float64, easing Easing) [NumJoints]float64 {
	seg, local := li.findSegment(t)
	local = applyEasing(local, easing)

	start := li.positions[seg]
	end := li.positions[seg+1]

	var out [NumJoints]float64
	for j := 0; j < NumJoints; j++ {
		out[j] = lerp(start[j], end[j], local)
	}
	return out
}

// CubicInterpolator interpolates with Catmull-Rom segments, producing
// continuous velocity through the control points. Boundary segments repeat
// the nearest endpoint as the outer tangent control point.
type CubicInterpolator struct {
	controlPoints
}

// NewCubicInterpolator builds a Catmull-Rom interpolator over the control
// points. Times must be ascending.
func NewCubicInterpolator(times []float64, positions [][NumJoints]float64) (*CubicInterpolator, error) {
	cp, err := newControlPoints(times, positions)
	if err != nil {
		return nil, err
	}
	return &CubicInterpolator{cp}, nil
}

func (ci *CubicInterpolator) Interpolate(t float64, easing Easing) [NumJoints]float64 {
	seg, local := ci.findSegment(t)
	local = applyEasing(local, easing)

	n := len(ci.times)
	i0 := seg - 1
	if i0 < 0 {
		i0 = 0
	}
	i2 := seg + 1
	if i2 > n-1 {
		i2 = n - 1
	}
	i3 := seg + 2
	if i3 > n-1 {
		i3 = n - 1
	}

	var out [NumJoints]float64
	for j := 0; j < NumJoints; j++ {
		out[j] = catmullRom(
			ci.positions[i0][j],
			ci.positions[seg][j],
			ci.positions[i2][j],
			ci.positions[i3][j],
			local,
		)
	}
	return out
}

// Interpolation selects the trajectory compilation mode.
type Interpolation string

const (
	InterpolationNone   Interpolation = "none"
	InterpolationLinear Interpolation = "linear"
	InterpolationCubic  Interpolation = "cubic"
)

// ParseInterpolation converts a string option into an Interpolation.
func ParseInterpolation(s string) (Interpolation, error) {
	switch Interpolation(s) {
	case InterpolationNone, InterpolationLinear, InterpolationCubic:
		return Interpolation(s), nil
	case "":
		return InterpolationNone, nil
	}
	return InterpolationNone, fmt.Errorf("unknown interpolation %q", s)
}

// NewInterpolator builds the interpolator for the given mode.
func NewInterpolator(times []float64, positions [][NumJoints]float64, mode Interpolation) (Interpolator, error) {
	if mode == InterpolationCubic {
		return NewCubicInterpolator(times, positions)
	}
	return NewLinearInterpolator(times, positions)
}
