package choreography

import "math"

// Resampled grids land on the end time within this tolerance; a miss wider
// than this appends an exact final sample.
const finalSampleTolerance = 0.001

// DefaultIntervalMS is the resample interval used when none is given.
const DefaultIntervalMS = 100

// Waypoint is a single point on the trajectory timeline, ready for direct
// dispatch: absolute time, joint angles in degrees, gripper position.
type Waypoint struct {
	Time    float64
	Joints  [NumJoints]float64
	Gripper float64
}

// Trajectory is a compiled, time-ascending waypoint sequence plus the
// options it was compiled with.
type Trajectory struct {
	Waypoints     []Waypoint
	IntervalMS    int
	Interpolation Interpolation
	Easing        Easing
	TotalDuration float64
	GrooveBPM     float64
}

// Len returns the waypoint count.
func (t *Trajectory) Len() int {
	return len(t.Waypoints)
}

// CompileOptions controls trajectory compilation. The zero value compiles
// checkpoint pass-through with no easing and no groove.
type CompileOptions struct {
	IntervalMS    int
	Interpolation Interpolation
	Easing        Easing
	Groove        GrooveConfig
}

func (o CompileOptions) interval() float64 {
	if o.IntervalMS <= 0 {
		return DefaultIntervalMS / 1000.0
	}
	return float64(o.IntervalMS) / 1000.0
}

func (o CompileOptions) normalized() CompileOptions {
	if o.Interpolation == "" {
		o.Interpolation = InterpolationNone
	}
	if o.Easing == "" {
		o.Easing = EasingNone
	}
	if o.IntervalMS <= 0 && o.Interpolation != InterpolationNone {
		o.IntervalMS = DefaultIntervalMS
	}
	return o
}

// checkpointSeries extracts the parallel (time, joints, gripper, groove
// scale) arrays the interpolators work over.
type checkpointSeries struct {
	times    []float64
	joints   [][NumJoints]float64
	grippers []float64
	scales   []float64
}

func newCheckpointSeries(c *Choreography) checkpointSeries {
	s := checkpointSeries{
		times:    make([]float64, len(c.Checkpoints)),
		joints:   make([][NumJoints]float64, len(c.Checkpoints)),
		grippers: make([]float64, len(c.Checkpoints)),
		scales:   make([]float64, len(c.Checkpoints)),
	}
	for i, cp := range c.Checkpoints {
		pose := c.Poses[cp.PoseName]
		s.times[i] = cp.Time
		s.joints[i] = pose.Joints
		s.grippers[i] = pose.Gripper
		s.scales[i] = cp.GrooveScale
	}
	return s
}

// lerpAt linearly interpolates a scalar series at time t, clamping outside
// the range. Used for gripper values and groove amplitude scales, which
// never follow the joint easing curve.
func (s checkpointSeries) lerpAt(values []float64, t float64) float64 {
	n := len(s.times)
	if n == 0 {
		return 0
	}
	if t <= s.times[0] {
		return values[0]
	}
	if t >= s.times[n-1] {
		return values[n-1]
	}
	for i := 0; i < n-1; i++ {
		if s.times[i] <= t && t < s.times[i+1] {
			duration := s.times[i+1] - s.times[i]
			if duration <= 0 {
				return values[i]
			}
			return lerp(values[i], values[i+1], (t-s.times[i])/duration)
		}
	}
	return values[n-1]
}

// Compile turns a choreography into a trajectory. With interpolation
// "none", waypoints land exactly on checkpoint times; otherwise the
// checkpoints become interpolator control points resampled on a fixed
// grid from the first to last checkpoint time inclusive. Groove, when
// configured, perturbs every compiled waypoint.
func Compile(c *Choreography, opts CompileOptions) (*Trajectory, error) {
	opts = opts.normalized()

	traj := &Trajectory{
		IntervalMS:    opts.IntervalMS,
		Interpolation: opts.Interpolation,
		Easing:        opts.Easing,
		GrooveBPM:     opts.Groove.BPM,
	}
	if len(c.Checkpoints) == 0 {
		return traj, nil
	}

	series := newCheckpointSeries(c)
	end := series.times[len(series.times)-1]
	traj.TotalDuration = end

	if opts.Interpolation == InterpolationNone {
		traj.IntervalMS = 0
		for i, t := range series.times {
			traj.Waypoints = append(traj.Waypoints, Waypoint{
				Time:    t,
				Joints:  opts.Groove.Apply(series.joints[i], t, series.scales[i]),
				Gripper: series.grippers[i],
			})
		}
		return traj, nil
	}

	interp, err := NewInterpolator(series.times, series.joints, opts.Interpolation)
	if err != nil {
		return nil, err
	}

	sample := func(t float64) Waypoint {
		joints := interp.Interpolate(t, opts.Easing)
		joints = opts.Groove.Apply(joints, t, series.lerpAt(series.scales, t))
		return Waypoint{Time: t, Joints: joints, Gripper: series.lerpAt(series.grippers, t)}
	}

	interval := opts.interval()
	for t := series.times[0]; t <= end; t += interval {
		traj.Waypoints = append(traj.Waypoints, sample(t))
	}
	if n := len(traj.Waypoints); n > 0 && math.Abs(traj.Waypoints[n-1].Time-end) > finalSampleTolerance {
		traj.Waypoints = append(traj.Waypoints, sample(end))
	}
	return traj, nil
}

// CompileDual compiles multiple choreographies onto one shared time grid
// spanning the union of all schedules, so every trajectory covers the same
// global start and end even when its own schedule is shorter. An arm whose
// schedule has ended (or not yet begun) holds its nearest checkpoint pose.
func CompileDual(choreos map[string]*Choreography, opts CompileOptions) (map[string]*Trajectory, error) {
	opts = opts.normalized()

	if opts.Interpolation == InterpolationNone {
		out := make(map[string]*Trajectory, len(choreos))
		for label, c := range choreos {
			traj, err := Compile(c, opts)
			if err != nil {
				return nil, err
			}
			out[label] = traj
		}
		return out, nil
	}

	globalStart := math.Inf(1)
	globalEnd := math.Inf(-1)
	for _, c := range choreos {
		for _, cp := range c.Checkpoints {
			globalStart = math.Min(globalStart, cp.Time)
			globalEnd = math.Max(globalEnd, cp.Time)
		}
	}

	out := make(map[string]*Trajectory, len(choreos))
	for label, c := range choreos {
		traj := &Trajectory{
			IntervalMS:    opts.IntervalMS,
			Interpolation: opts.Interpolation,
			Easing:        opts.Easing,
			GrooveBPM:     opts.Groove.BPM,
		}
		out[label] = traj
		if len(c.Checkpoints) == 0 {
			continue
		}
		traj.TotalDuration = globalEnd

		series := newCheckpointSeries(c)
		first := series.times[0]
		last := series.times[len(series.times)-1]

		interp, err := NewInterpolator(series.times, series.joints, opts.Interpolation)
		if err != nil {
			return nil, err
		}

		sample := func(t float64) Waypoint {
			clamped := math.Max(first, math.Min(last, t))
			joints := interp.Interpolate(clamped, opts.Easing)
			joints = opts.Groove.Apply(joints, t, series.lerpAt(series.scales, clamped))
			return Waypoint{Time: t, Joints: joints, Gripper: series.lerpAt(series.grippers, clamped)}
		}

		interval := opts.interval()
		for t := globalStart; t <= globalEnd; t += interval {
			traj.Waypoints = append(traj.Waypoints, sample(t))
		}
		if n := len(traj.Waypoints); n > 0 && math.Abs(traj.Waypoints[n-1].Time-globalEnd) > finalSampleTolerance {
			traj.Waypoints = append(traj.Waypoints, sample(globalEnd))
		}
	}
	return out, nil
}

// Shift returns a copy of the trajectory with every waypoint time moved
// forward by offset seconds.
func Shift(t *Trajectory, offset float64) *Trajectory {
	shifted := &Trajectory{
		Waypoints:     make([]Waypoint, len(t.Waypoints)),
		IntervalMS:    t.IntervalMS,
		Interpolation: t.Interpolation,
		Easing:        t.Easing,
		TotalDuration: t.TotalDuration + offset,
		GrooveBPM:     t.GrooveBPM,
	}
	for i, wp := range t.Waypoints {
		wp.Time += offset
		shifted.Waypoints[i] = wp
	}
	return shifted
}
