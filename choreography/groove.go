package choreography

import "math"

// DefaultGrooveAmplitudes holds the per-joint groove amplitude in degrees.
// The shoulder carries the main bounce, the elbow and wrist follow; base
// rotation, forearm roll, and J6 stay still.
var DefaultGrooveAmplitudes = [NumJoints]float64{0.0, 2.0, 1.5, 0.0, 1.0, 0.0}

// GrooveConfig configures the rhythmic oscillation overlaid on joint
// positions. A zero BPM (or all-zero amplitudes) is the identity.
type GrooveConfig struct {
	BPM            float64
	Amplitudes     [NumJoints]float64 // degrees
	PhaseOffset    float64            // seconds, for audio sync
	BeatMultiplier float64            // 1.0 = on the beat, 0.5 = half-beat
}

// NewGrooveConfig builds a groove from a tempo. A nil-equivalent (bpm <= 0)
// yields the null groove with no effect.
func NewGrooveConfig(bpm float64) GrooveConfig {
	if bpm <= 0 {
		return GrooveConfig{BeatMultiplier: 1.0}
	}
	return GrooveConfig{
		BPM:            bpm,
		Amplitudes:     DefaultGrooveAmplitudes,
		BeatMultiplier: 1.0,
	}
}

// Offset computes the groove perturbation in degrees for one joint at the
// given time, with an additional amplitude scale from the schedule's
// groove-xN multipliers.
func (g GrooveConfig) Offset(joint int, t, scale float64) float64 {
	amplitude := g.Amplitudes[joint] * scale
	if amplitude == 0.0 || g.BPM <= 0.0 {
		return 0.0
	}
	frequency := (g.BPM / 60.0) * g.BeatMultiplier
	phase := 2.0 * math.Pi * frequency * (t + g.PhaseOffset)
	return amplitude * math.Sin(phase)
}

// Apply perturbs all joints at the given time. Joints with zero amplitude
// pass through unchanged.
func (g GrooveConfig) Apply(joints [NumJoints]float64, t, scale float64) [NumJoints]float64 {
	for i := range joints {
		joints[i] += g.Offset(i, t, scale)
	}
	return joints
}

// IsNull reports whether the groove has no effect at any time.
func (g GrooveConfig) IsNull() bool {
	if g.BPM <= 0 {
		return true
	}
	for _, a := range g.Amplitudes {
		if a != 0 {
			return false
		}
	}
	return true
}
