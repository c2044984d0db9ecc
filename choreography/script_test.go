package choreography

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPosesJSON = `{
  "scenes": [
    {"name": "stand", "joint_positions": {"J1": 0, "J2": 90, "J3": -45, "J4": 0, "J5": 0, "J6": 0}},
    {"name": "reach", "joint_positions": {"J1": 30, "J2": 120, "J3": -20, "J4": 0, "J5": 10, "J6": 0}, "gripper": 0.5},
    {"name": "wave_left", "joint_positions": {"J1": 0, "J2": 90, "J3": -45, "J4": 0, "J5": 0, "J6": 100}},
    {"name": "wave_right", "joint_positions": {"J1": 0, "J2": 90, "J3": -45, "J4": 0, "J5": 0, "J6": -100}}
  ]
}`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPoses(t *testing.T) {
	path := writeTempFile(t, "poses.json", testPosesJSON)

	poses, err := LoadPoses(path)
	if err != nil {
		t.Fatalf("LoadPoses failed: %v", err)
	}
	if len(poses) != 4 {
		t.Fatalf("expected 4 poses, got %d", len(poses))
	}

	stand := poses["stand"]
	if stand.Joints != [NumJoints]float64{0, 90, -45, 0, 0, 0} {
		t.Errorf("unexpected stand joints: %v", stand.Joints)
	}
	if stand.Gripper != 0 {
		t.Errorf("expected default gripper 0, got %v", stand.Gripper)
	}
	if poses["reach"].Gripper != 0.5 {
		t.Errorf("expected reach gripper 0.5, got %v", poses["reach"].Gripper)
	}
}

func TestLoadPosesMissingJoint(t *testing.T) {
	path := writeTempFile(t, "poses.json", `{"scenes": [{"name": "bad", "joint_positions": {"J1": 0}}]}`)
	if _, err := LoadPoses(path); err == nil {
		t.Error("expected error for scene missing joints")
	}
}

func TestParseSchedule(t *testing.T) {
	path := writeTempFile(t, "schedule.md", `
# intro
00:00.000 - stand
00:06.500 - reach

01:10.250 - wave_left groove-x2
not a checkpoint line
00:20.000 - wave_right groove-x0.5
`)

	checkpoints, err := ParseSchedule(path)
	if err != nil {
		t.Fatalf("ParseSchedule failed: %v", err)
	}
	if len(checkpoints) != 4 {
		t.Fatalf("expected 4 checkpoints, got %d", len(checkpoints))
	}

	want := []Checkpoint{
		{Time: 0.0, PoseName: "stand", GrooveScale: 1.0},
		{Time: 6.5, PoseName: "reach", GrooveScale: 1.0},
		{Time: 70.25, PoseName: "wave_left", GrooveScale: 2.0},
		{Time: 20.0, PoseName: "wave_right", GrooveScale: 0.5},
	}
	for i, cp := range checkpoints {
		if cp != want[i] {
			t.Errorf("checkpoint %d: expected %+v, got %+v", i, want[i], cp)
		}
	}
}

func TestParseScheduleEnDash(t *testing.T) {
	path := writeTempFile(t, "schedule.md", "00:01.000 – stand\n")
	checkpoints, err := ParseSchedule(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(checkpoints) != 1 || checkpoints[0].PoseName != "stand" {
		t.Errorf("en-dash separator not accepted: %+v", checkpoints)
	}
}

func TestLoadChoreographyUnknownPose(t *testing.T) {
	poses := writeTempFile(t, "poses.json", testPosesJSON)
	schedule := writeTempFile(t, "schedule.md", "00:00.000 - missing_pose\n")

	if _, err := LoadChoreography(poses, schedule); err == nil {
		t.Error("expected error for unknown pose")
	}
}

func TestLoadChoreographySpeedWarning(t *testing.T) {
	// J6 swings 200 deg in 1 second against the 172 deg/s limit; both
	// poses stay inside position limits, so that is the only warning.
	poses := writeTempFile(t, "poses.json", testPosesJSON)
	schedule := writeTempFile(t, "schedule.md", "00:00.000 - wave_right\n00:01.000 - wave_left\n")

	choreo, err := LoadChoreography(poses, schedule)
	if err != nil {
		t.Fatalf("LoadChoreography failed: %v", err)
	}
	if len(choreo.Warnings) != 1 {
		t.Fatalf("expected exactly 1 warning, got %d: %v", len(choreo.Warnings), choreo.Warnings)
	}
	w := choreo.Warnings[0]
	if !strings.Contains(w, "J6") || !strings.Contains(w, "wave_right->wave_left") {
		t.Errorf("warning should reference the joint and checkpoint pair: %q", w)
	}
}

func TestLoadChoreographyJointLimitWarning(t *testing.T) {
	poses := writeTempFile(t, "poses.json", `{"scenes": [
		{"name": "over", "joint_positions": {"J1": 0, "J2": 200, "J3": -45, "J4": 0, "J5": 0, "J6": 0}}
	]}`)
	schedule := writeTempFile(t, "schedule.md", "00:00.000 - over\n")

	choreo, err := LoadChoreography(poses, schedule)
	if err != nil {
		t.Fatal(err)
	}
	if len(choreo.Warnings) != 1 || !strings.Contains(choreo.Warnings[0], "J2") {
		t.Errorf("expected one J2 limit warning, got %v", choreo.Warnings)
	}
}

func TestLoadChoreographyTimingWarning(t *testing.T) {
	poses := writeTempFile(t, "poses.json", testPosesJSON)
	schedule := writeTempFile(t, "schedule.md", "00:02.000 - stand\n00:01.000 - stand\n")

	choreo, err := LoadChoreography(poses, schedule)
	if err != nil {
		t.Fatal(err)
	}
	if len(choreo.Warnings) != 1 || !strings.Contains(choreo.Warnings[0], "Invalid timing") {
		t.Errorf("expected one timing warning, got %v", choreo.Warnings)
	}
}
