package piper_arm

import (
	"context"
	"sync"
	"time"
)

// Adapter is the capability surface a Piper backend exposes: position
// commands in, position readback out. The hardware controller, and any
// simulation backend, satisfy it; the choreography engine depends on
// nothing else.
type Adapter interface {
	// Joints returns the last known joint angles in radians.
	Joints(ctx context.Context) ([6]float64, error)
	// Gripper returns the last known gripper position, 0=open..1=closed.
	Gripper(ctx context.Context) (float64, error)
	// CommandJoints dispatches a short command burst, radians.
	CommandJoints(ctx context.Context, positions [6]float64) error
	// CommandJointsFor streams the command for the given duration.
	CommandJointsFor(ctx context.Context, positions [6]float64, duration time.Duration) error
	// CommandGripper sets the gripper position, 0=open..1=closed.
	CommandGripper(ctx context.Context, position float64) error
	Close(ctx context.Context) error
}

// HardwareAdapter exposes a shared controller through the Adapter
// interface.
type HardwareAdapter struct {
	controller *SafePiperController
	port       string
}

// NewHardwareAdapter connects to the arm on the given port and wraps the
// shared controller.
func NewHardwareAdapter(cfg *PiperConfig) (*HardwareAdapter, error) {
	controller, err := GetSharedController(cfg)
	if err != nil {
		return nil, err
	}
	return &HardwareAdapter{controller: controller, port: cfg.Port}, nil
}

func (a *HardwareAdapter) Joints(ctx context.Context) ([6]float64, error) {
	return a.controller.ReadState().Joints, nil
}

func (a *HardwareAdapter) Gripper(ctx context.Context) (float64, error) {
	return a.controller.ReadState().Gripper, nil
}

func (a *HardwareAdapter) CommandJoints(ctx context.Context, positions [6]float64) error {
	return a.controller.CommandJointPositionsBurst(ctx, positions)
}

func (a *HardwareAdapter) CommandJointsFor(ctx context.Context, positions [6]float64, duration time.Duration) error {
	return a.controller.CommandJointPositions(ctx, positions, duration)
}

func (a *HardwareAdapter) CommandGripper(ctx context.Context, position float64) error {
	return a.controller.CommandGripper(position)
}

func (a *HardwareAdapter) Close(ctx context.Context) error {
	ReleaseSharedController(a.port)
	return nil
}

// SimAdapter is a position-echo backend with the same command/readback
// contract as hardware: commanded positions become the readback
// immediately. It stands in for a physics engine during dry runs and
// tests.
type SimAdapter struct {
	stateMu sync.RWMutex
	state   ArmState
}

func NewSimAdapter() *SimAdapter {
	return &SimAdapter{}
}

func (a *SimAdapter) Joints(ctx context.Context) ([6]float64, error) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state.Joints, nil
}

func (a *SimAdapter) Gripper(ctx context.Context) (float64, error) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state.Gripper, nil
}

func (a *SimAdapter) CommandJoints(ctx context.Context, positions [6]float64) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.state.Joints = positions
	return nil
}

func (a *SimAdapter) CommandJointsFor(ctx context.Context, positions [6]float64, duration time.Duration) error {
	return a.CommandJoints(ctx, positions)
}

func (a *SimAdapter) CommandGripper(ctx context.Context, position float64) error {
	if position < 0 {
		position = 0
	} else if position > 1 {
		position = 1
	}
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.state.Gripper = position
	return nil
}

func (a *SimAdapter) Close(ctx context.Context) error {
	return nil
}
