package choreography

import "math"

// Startup sequence constants: a J6 wiggle that signals "ready, go" before
// the schedule begins.
const (
	StartupDuration = 7.0  // seconds
	StartupSettle   = 3.0  // time for the arm to settle into its start pose
	StartupJ6Offset = 60.0 // degrees relative to the starting position
)

const j6Index = 5

// StartupWaypoints builds the countdown wiggle anchored to the arm's own
// starting pose:
//
//	t=0-3: settle into the starting position
//	t=4:   J6 turns left (+60 deg)
//	t=5:   J6 returns to center
//	t=6:   J6 turns right (-60 deg)
//	t=7:   J6 returns to center (go)
//
// With intervalMS <= 0 only the key waypoints are emitted; otherwise the
// wiggle is resampled linearly on the interval grid.
func StartupWaypoints(start Waypoint, intervalMS int) []Waypoint {
	startJ6 := start.Joints[j6Index]

	keyTimes := []float64{0.0, StartupSettle, 4.0, 5.0, 6.0, StartupDuration}
	keyOffsets := []float64{0, 0, StartupJ6Offset, 0, -StartupJ6Offset, 0}

	keyJoints := make([][NumJoints]float64, len(keyTimes))
	for i, offset := range keyOffsets {
		joints := start.Joints
		joints[j6Index] = startJ6 + offset
		keyJoints[i] = joints
	}

	if intervalMS <= 0 {
		waypoints := make([]Waypoint, len(keyTimes))
		for i, t := range keyTimes {
			waypoints[i] = Waypoint{Time: t, Joints: keyJoints[i], Gripper: start.Gripper}
		}
		return waypoints
	}

	// The wiggle is always piecewise linear regardless of how the main
	// trajectory interpolates.
	interp, err := NewLinearInterpolator(keyTimes, keyJoints)
	if err != nil {
		return nil
	}

	interval := float64(intervalMS) / 1000.0
	var waypoints []Waypoint
	for t := 0.0; t < StartupDuration; t += interval {
		waypoints = append(waypoints, Waypoint{
			Time:    t,
			Joints:  interp.Interpolate(t, EasingNone),
			Gripper: start.Gripper,
		})
	}

	if n := len(waypoints); n == 0 || math.Abs(waypoints[n-1].Time-StartupDuration) > finalSampleTolerance {
		waypoints = append(waypoints, Waypoint{
			Time:    StartupDuration,
			Joints:  start.Joints,
			Gripper: start.Gripper,
		})
	}
	return waypoints
}

// PrependStartup returns a new trajectory with the startup wiggle in
// front, all original waypoint times shifted forward by the wiggle's
// duration. An empty trajectory is returned unchanged.
func PrependStartup(t *Trajectory) *Trajectory {
	if len(t.Waypoints) == 0 {
		return t
	}

	shifted := Shift(t, StartupDuration)
	startup := StartupWaypoints(t.Waypoints[0], t.IntervalMS)

	combined := &Trajectory{
		Waypoints:     make([]Waypoint, 0, len(startup)+len(shifted.Waypoints)),
		IntervalMS:    t.IntervalMS,
		Interpolation: t.Interpolation,
		Easing:        t.Easing,
		TotalDuration: shifted.TotalDuration,
		GrooveBPM:     t.GrooveBPM,
	}
	combined.Waypoints = append(combined.Waypoints, startup...)
	combined.Waypoints = append(combined.Waypoints, shifted.Waypoints...)
	return combined
}
