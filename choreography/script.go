// Package choreography compiles timed pose schedules into dense waypoint
// trajectories and plays them back on one or two arms.
package choreography

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// NumJoints is the arm's joint count.
const NumJoints = 6

// JointNames orders the joints as they appear in pose files.
var JointNames = [NumJoints]string{"J1", "J2", "J3", "J4", "J5", "J6"}

// JointMaxSpeedDeg is the conservative per-joint speed limit, matching the
// URDF joint6 velocity of 3 rad/s (~172 deg/s).
const JointMaxSpeedDeg = 172.0

// JointLimitsDeg holds the URDF position limits in degrees.
var JointLimitsDeg = [NumJoints][2]float64{
	{-150.0, 150.0}, // J1: -2.618 to 2.618 rad
	{0.0, 180.0},    // J2: 0 to 3.14 rad
	{-170.0, 0.0},   // J3: -2.967 to 0 rad
	{-100.0, 100.0}, // J4: -1.745 to 1.745 rad
	{-70.0, 70.0},   // J5: -1.22 to 1.22 rad
	{-120.0, 120.0}, // J6: -2.0944 to 2.0944 rad
}

// Pattern for schedule lines: "MM:SS.mmm - pose_name" with an optional
// "groove-xN" amplitude multiplier suffix.
var checkpointRE = regexp.MustCompile(`^(\d{1,2}):(\d{2})\.(\d{3})\s*[-–]\s*(\w+)(?:\s+groove-x([0-9]*\.?[0-9]+))?`)

// Pose is a named arm pose with joint positions in degrees and an optional
// gripper position (0=open .. 1=closed).
type Pose struct {
	Name    string
	Joints  [NumJoints]float64
	Gripper float64
}

// Checkpoint is a point in time when the arm should arrive at a pose.
// GrooveScale multiplies the groove amplitude around this checkpoint.
type Checkpoint struct {
	Time        float64
	PoseName    string
	GrooveScale float64
}

// Choreography is a complete script: poses, timed checkpoints, and any
// non-fatal validation warnings collected at load time.
type Choreography struct {
	Poses       map[string]Pose
	Checkpoints []Checkpoint
	Warnings    []string
}

type sceneFile struct {
	Scenes []struct {
		Name           string             `json:"name"`
		JointPositions map[string]float64 `json:"joint_positions"`
		Gripper        float64            `json:"gripper"`
	} `json:"scenes"`
}

// LoadPoses loads pose definitions from a JSON scene file:
//
//	{"scenes": [{"name": "stand", "joint_positions": {"J1": 0, ...}}, ...]}
func LoadPoses(path string) (map[string]Pose, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read poses file: %w", err)
	}

	var file sceneFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse poses file %s: %w", path, err)
	}

	poses := make(map[string]Pose, len(file.Scenes))
	for _, scene := range file.Scenes {
		pose := Pose{Name: scene.Name, Gripper: scene.Gripper}
		for i, joint := range JointNames {
			val, ok := scene.JointPositions[joint]
			if !ok {
				return nil, fmt.Errorf("scene %q missing joint %s", scene.Name, joint)
			}
			pose.Joints[i] = val
		}
		poses[scene.Name] = pose
	}
	return poses, nil
}

// ParseSchedule parses a schedule file, one checkpoint per line:
//
//	00:00.000 - stand
//	00:06.500 - left_down groove-x2
//
// Each line specifies when the arm should arrive at that pose.
// Milliseconds are mandatory (exactly 3 digits). Blank lines and lines
// starting with # are skipped.
func ParseSchedule(path string) ([]Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file: %w", err)
	}

	var checkpoints []Checkpoint
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		match := checkpointRE.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		minutes, _ := strconv.Atoi(match[1])
		seconds, _ := strconv.Atoi(match[2])
		ms, _ := strconv.Atoi(match[3])

		scale := 1.0
		if match[5] != "" {
			scale, err = strconv.ParseFloat(match[5], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid groove multiplier in line %q: %w", line, err)
			}
		}

		checkpoints = append(checkpoints, Checkpoint{
			Time:        float64(minutes)*60 + float64(seconds) + float64(ms)/1000.0,
			PoseName:    match[4],
			GrooveScale: scale,
		})
	}
	return checkpoints, nil
}

// LoadChoreography loads a complete choreography from a pose JSON and a
// schedule file. Unknown pose names are fatal; joint-limit, speed-limit,
// and timing violations are collected as warnings.
func LoadChoreography(posesPath, schedulePath string) (*Choreography, error) {
	poses, err := LoadPoses(posesPath)
	if err != nil {
		return nil, err
	}
	checkpoints, err := ParseSchedule(schedulePath)
	if err != nil {
		return nil, err
	}

	choreo := &Choreography{Poses: poses, Checkpoints: checkpoints}

	for _, cp := range checkpoints {
		if _, ok := poses[cp.PoseName]; !ok {
			return nil, fmt.Errorf("pose %q at %gs not found in poses file, available: %s",
				cp.PoseName, cp.Time, strings.Join(sortedPoseNames(poses), ", "))
		}
	}

	choreo.validateLimits()
	choreo.validateSpeeds()
	return choreo, nil
}

// validateLimits warns for any referenced pose with joints outside the
// URDF position limits.
func (c *Choreography) validateLimits() {
	seen := map[string]bool{}
	for _, cp := range c.Checkpoints {
		if seen[cp.PoseName] {
			continue
		}
		seen[cp.PoseName] = true

		pose := c.Poses[cp.PoseName]
		for i, joint := range JointNames {
			pos := pose.Joints[i]
			lower, upper := JointLimitsDeg[i][0], JointLimitsDeg[i][1]
			if pos < lower || pos > upper {
				c.Warnings = append(c.Warnings, fmt.Sprintf(
					"Joint limit: pose '%s' %s=%.1f° outside [%.1f°, %.1f°]",
					pose.Name, joint, pos, lower, upper))
			}
		}
	}
}

// validateSpeeds warns for inter-checkpoint joint speeds over the limit
// and for non-increasing checkpoint timing.
func (c *Choreography) validateSpeeds() {
	for i := 1; i < len(c.Checkpoints); i++ {
		prev, curr := c.Checkpoints[i-1], c.Checkpoints[i]
		duration := curr.Time - prev.Time

		if duration <= 0 {
			c.Warnings = append(c.Warnings, fmt.Sprintf(
				"Invalid timing: %s@%gs -> %s@%gs (duration=%gs)",
				prev.PoseName, prev.Time, curr.PoseName, curr.Time, duration))
			continue
		}

		prevPose := c.Poses[prev.PoseName]
		currPose := c.Poses[curr.PoseName]
		for j, joint := range JointNames {
			delta := currPose.Joints[j] - prevPose.Joints[j]
			if delta < 0 {
				delta = -delta
			}
			speed := delta / duration
			if speed > JointMaxSpeedDeg {
				c.Warnings = append(c.Warnings, fmt.Sprintf(
					"Speed limit: %s->%s %s: %.1f deg/s > %g deg/s",
					prev.PoseName, curr.PoseName, joint, speed, JointMaxSpeedDeg))
			}
		}
	}
}

func sortedPoseNames(poses map[string]Pose) []string {
	names := make([]string, 0, len(poses))
	for name := range poses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
