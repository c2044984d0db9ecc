package piper_arm

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"

	"piper_arm/canbus"
)

// fakeBus records sent frames and replays queued receive frames, returning
// an immediate timeout once the queue drains.
type fakeBus struct {
	mu     sync.Mutex
	sent   []canbus.Frame
	queue  []canbus.Frame
	closed bool
}

func (b *fakeBus) Send(f canbus.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, f)
	return nil
}

func (b *fakeBus) Recv(timeout time.Duration) (canbus.Frame, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return canbus.Frame{}, false, nil
	}
	f := b.queue[0]
	b.queue = b.queue[1:]
	return f, true, nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBus) sentFrames() []canbus.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]canbus.Frame, len(b.sent))
	copy(out, b.sent)
	return out
}

func jointPairFrame(id uint32, firstMdeg, secondMdeg int32) canbus.Frame {
	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], uint32(firstMdeg))
	binary.BigEndian.PutUint32(data[4:8], uint32(secondMdeg))
	return canbus.Frame{ID: id, Data: data[:]}
}

func testController(t *testing.T, bus frameBus) *PiperController {
	t.Helper()
	cfg := &PiperConfig{Port: "/dev/ttyUSB0"}
	if _, _, err := cfg.Validate(""); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}
	return newControllerWithBus(bus, cfg, logging.NewTestLogger(t))
}

func TestProcessFeedbackJoints(t *testing.T) {
	c := testController(t, &fakeBus{})

	// 90 deg on J1, -45 deg on J2
	if !c.processFeedback(jointPairFrame(jointFeedbackIDBase, 90000, -45000)) {
		t.Fatal("joint feedback frame not recognized")
	}
	// 30 deg on J5, 180 deg on J6
	if !c.processFeedback(jointPairFrame(jointFeedbackIDBase+2, 30000, 180000)) {
		t.Fatal("joint feedback frame not recognized")
	}

	state := c.State()
	expect := map[int]float64{
		0: math.Pi / 2,
		1: -math.Pi / 4,
		4: math.Pi / 6,
		5: math.Pi,
	}
	for idx, want := range expect {
		if math.Abs(state.Joints[idx]-want) > 1e-9 {
			t.Errorf("joint %d: expected %.6f rad, got %.6f", idx+1, want, state.Joints[idx])
		}
	}
}

func TestProcessFeedbackGripper(t *testing.T) {
	c := testController(t, &fakeBus{})

	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], 35000)
	if !c.processFeedback(canbus.Frame{ID: gripperFeedbackID, Data: data[:]}) {
		t.Fatal("gripper feedback frame not recognized")
	}
	if got := c.State().Gripper; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected gripper 0.5, got %.4f", got)
	}

	// Out of range readings clamp
	binary.BigEndian.PutUint32(data[0:4], 100000)
	c.processFeedback(canbus.Frame{ID: gripperFeedbackID, Data: data[:]})
	if got := c.State().Gripper; got != 1.0 {
		t.Errorf("expected gripper clamped to 1.0, got %.4f", got)
	}
}

func TestReadStateDrainsPendingFeedback(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	// Feedback accumulates on the bus while no command stream is running.
	var gripData [8]byte
	binary.BigEndian.PutUint32(gripData[0:4], 70000)
	bus.queue = []canbus.Frame{
		jointPairFrame(jointFeedbackIDBase, 90000, 0),
		{ID: gripperFeedbackID, Data: gripData[:]},
	}

	state := c.ReadState()
	if math.Abs(state.Joints[0]-math.Pi/2) > 1e-9 {
		t.Errorf("expected J1 pi/2 after drain, got %.4f", state.Joints[0])
	}
	if state.Gripper != 1.0 {
		t.Errorf("expected gripper 1.0 after drain, got %.4f", state.Gripper)
	}

	// The drained frames persist in the cached state.
	if got := c.State().Joints[0]; math.Abs(got-math.Pi/2) > 1e-9 {
		t.Errorf("cached state not updated, got %.4f", got)
	}
}

func TestProcessFeedbackIgnoresUnknownIDs(t *testing.T) {
	c := testController(t, &fakeBus{})
	if c.processFeedback(canbus.Frame{ID: 0x123, Data: make([]byte, 8)}) {
		t.Error("unrelated frame reported as protocol-relevant")
	}
}

func TestConnectRequiresFeedback(t *testing.T) {
	c := testController(t, &fakeBus{})
	if err := c.connect(20 * time.Millisecond); err == nil {
		t.Error("expected connect to fail without feedback")
	}
}

func TestConnectHandshake(t *testing.T) {
	bus := &fakeBus{queue: []canbus.Frame{
		jointPairFrame(jointFeedbackIDBase, 0, 0),
		jointPairFrame(jointFeedbackIDBase+1, 0, 0),
		jointPairFrame(jointFeedbackIDBase+2, 0, 0),
	}}
	c := testController(t, bus)

	if err := c.connect(DefaultFeedbackTimeout); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	var enables, motionCtrls int
	for _, f := range bus.sentFrames() {
		switch f.ID {
		case motorEnableID:
			enables++
			if f.Data[0] != enableTargetAll || f.Data[1] != enableFlagOn {
				t.Errorf("unexpected enable payload: %x", f.Data)
			}
		case motionCtrl2ID:
			motionCtrls++
			if f.Data[0] != ctrlModeCAN || f.Data[1] != moveModeJoint || f.Data[2] != DefaultSpeedPercent {
				t.Errorf("unexpected motion control payload: %x", f.Data)
			}
		}
	}
	if enables != enableRepeat {
		t.Errorf("expected %d enable frames, got %d", enableRepeat, enables)
	}
	if motionCtrls != enableRepeat {
		t.Errorf("expected %d motion control frames, got %d", enableRepeat, motionCtrls)
	}
}

func TestEnableResendsHandshake(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	// Rerunning the handshake after an emergency stop needs no feedback.
	if err := c.Enable(); err != nil {
		t.Fatalf("enable failed: %v", err)
	}

	var enables, motionCtrls int
	for _, f := range bus.sentFrames() {
		switch f.ID {
		case motorEnableID:
			enables++
		case motionCtrl2ID:
			motionCtrls++
		}
	}
	if enables != enableRepeat || motionCtrls != enableRepeat {
		t.Errorf("expected %d enable and motion control frames, got %d and %d",
			enableRepeat, enables, motionCtrls)
	}
}

func TestSetSpeedPercent(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	if err := c.SetSpeedPercent(0); err == nil {
		t.Error("expected error for speed percent 0")
	}
	if err := c.SetSpeedPercent(101); err == nil {
		t.Error("expected error for speed percent 101")
	}

	if err := c.SetSpeedPercent(75); err != nil {
		t.Fatalf("SetSpeedPercent failed: %v", err)
	}
	if err := c.sendMotionCtrl(); err != nil {
		t.Fatalf("sendMotionCtrl failed: %v", err)
	}

	sent := bus.sentFrames()
	if len(sent) != 1 || sent[0].ID != motionCtrl2ID {
		t.Fatalf("expected one motion control frame, got %v", sent)
	}
	if sent[0].Data[2] != 75 {
		t.Errorf("expected speed byte 75, got %d", sent[0].Data[2])
	}
}

func TestSendCommandSet(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	if err := c.sendCommandSet([6]int32{10000, -20000, 30000, -40000, 50000, -60000}); err != nil {
		t.Fatalf("sendCommandSet failed: %v", err)
	}

	sent := bus.sentFrames()
	if len(sent) != 5 {
		t.Fatalf("expected 5 frames (enable, motion, 3 joint pairs), got %d", len(sent))
	}
	if sent[0].ID != motorEnableID || sent[1].ID != motionCtrl2ID {
		t.Errorf("command set must lead with enable and motion control, got %x %x", sent[0].ID, sent[1].ID)
	}

	wantPairs := [3][2]int32{{10000, -20000}, {30000, -40000}, {50000, -60000}}
	for i := 0; i < 3; i++ {
		f := sent[2+i]
		if f.ID != uint32(jointCtrlIDBase+i) {
			t.Errorf("frame %d: expected ID %x, got %x", i, jointCtrlIDBase+i, f.ID)
		}
		first := int32(binary.BigEndian.Uint32(f.Data[0:4]))
		second := int32(binary.BigEndian.Uint32(f.Data[4:8]))
		if first != wantPairs[i][0] || second != wantPairs[i][1] {
			t.Errorf("frame %d: expected (%d, %d), got (%d, %d)", i, wantPairs[i][0], wantPairs[i][1], first, second)
		}
	}
}

func TestCommandJointPositionsBurstStreams(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)
	c.interval = time.Millisecond

	if err := c.CommandJointPositionsBurst(context.Background(), [6]float64{math.Pi / 2}); err != nil {
		t.Fatalf("burst failed: %v", err)
	}

	var jointFrames int
	for _, f := range bus.sentFrames() {
		if f.ID == jointCtrlIDBase {
			jointFrames++
			if got := int32(binary.BigEndian.Uint32(f.Data[0:4])); got != 90000 {
				t.Errorf("expected 90000 millidegrees, got %d", got)
			}
		}
	}
	// Resent every interval for the whole burst, never just once.
	if jointFrames < 2 {
		t.Errorf("expected repeated command sets during burst, got %d", jointFrames)
	}
}

func TestCommandJointPositionsHonorsContext(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.CommandJointPositions(ctx, [6]float64{}, time.Second)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCommandGripperEncoding(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	if err := c.CommandGripper(0.5); err != nil {
		t.Fatalf("CommandGripper failed: %v", err)
	}
	sent := bus.sentFrames()
	if len(sent) != 1 || sent[0].ID != gripperCommandID {
		t.Fatalf("expected one gripper frame, got %+v", sent)
	}
	if got := int32(binary.BigEndian.Uint32(sent[0].Data[0:4])); got != 35000 {
		t.Errorf("expected 35000 um, got %d", got)
	}

	// Out of range commands clamp rather than error
	if err := c.CommandGripper(1.5); err != nil {
		t.Fatalf("CommandGripper failed: %v", err)
	}
	sent = bus.sentFrames()
	if got := int32(binary.BigEndian.Uint32(sent[1].Data[0:4])); got != gripperRangeUM {
		t.Errorf("expected clamp to %d um, got %d", gripperRangeUM, got)
	}
}

func TestEmergencyStopFrame(t *testing.T) {
	bus := &fakeBus{}
	c := testController(t, bus)

	if err := c.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop failed: %v", err)
	}
	sent := bus.sentFrames()
	if len(sent) != 1 || sent[0].ID != motionCtrl1ID || sent[0].Data[0] != 0x01 {
		t.Errorf("unexpected emergency stop frame: %+v", sent)
	}
}

func TestAngleConversions(t *testing.T) {
	cases := []struct {
		rad  float64
		mdeg int32
	}{
		{0, 0},
		{math.Pi, 180000},
		{-math.Pi / 2, -90000},
		{math.Pi / 6, 30000},
	}
	for _, tc := range cases {
		got := radsToMillideg([6]float64{tc.rad})[0]
		if got != tc.mdeg {
			t.Errorf("radsToMillideg(%.4f): expected %d, got %d", tc.rad, tc.mdeg, got)
		}
		back := millidegToRad(tc.mdeg)
		if math.Abs(back-tc.rad) > 1e-9 {
			t.Errorf("millidegToRad(%d): expected %.6f, got %.6f", tc.mdeg, tc.rad, back)
		}
	}
}
