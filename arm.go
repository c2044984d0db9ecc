package piper_arm

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	commonpb "go.viam.com/api/common/v1"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	PiperArmModel    = resource.NewModel("choreo", "piper", "arm")
	errUnimplemented = errors.New("unimplemented")
)

func init() {
	resource.RegisterComponent(arm.API, PiperArmModel,
		resource.Registration[arm.Arm, *PiperConfig]{
			Constructor: newPiperArm,
		},
	)
}

// Joint limits from the Piper URDF, in radians.
var piperJointLimits = [6][2]float64{
	{-150.0 * math.Pi / 180.0, 150.0 * math.Pi / 180.0}, // J1 base rotation
	{0.0, 180.0 * math.Pi / 180.0},                      // J2 shoulder
	{-170.0 * math.Pi / 180.0, 0.0},                     // J3 elbow
	{-100.0 * math.Pi / 180.0, 100.0 * math.Pi / 180.0}, // J4 forearm roll
	{-70.0 * math.Pi / 180.0, 70.0 * math.Pi / 180.0},   // J5 wrist pitch
	{-120.0 * math.Pi / 180.0, 120.0 * math.Pi / 180.0}, // J6 wrist roll
}

type piperArm struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	cfg        *PiperConfig
	controller *SafePiperController
	model      referenceframe.Model

	isMoving atomic.Bool
}

func newPiperArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*PiperConfig](rawConf)
	if err != nil {
		return nil, err
	}
	if conf.Logger == nil {
		conf.Logger = logger
	}

	controller, err := GetSharedController(conf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize Piper controller")
	}

	a := &piperArm{
		name:       rawConf.ResourceName(),
		logger:     logger,
		cfg:        conf,
		controller: controller,
		model:      referenceframe.NewSimpleModel("piper"),
	}

	logger.Infof("Piper arm initialized on port %s at %d bit/s", conf.Port, conf.Bitrate)
	return a, nil
}

func (a *piperArm) Name() resource.Name {
	return a.name
}

// clampToLimits bounds the requested joint angles to the URDF limits,
// warning on each clamp.
func (a *piperArm) clampToLimits(positions [6]float64) [6]float64 {
	for i, angle := range positions {
		lower, upper := piperJointLimits[i][0], piperJointLimits[i][1]
		if angle < lower {
			a.logger.Warnf("Joint %d angle %.3f rad below limit %.3f rad, clamping", i+1, angle, lower)
			positions[i] = lower
		} else if angle > upper {
			a.logger.Warnf("Joint %d angle %.3f rad above limit %.3f rad, clamping", i+1, angle, upper)
			positions[i] = upper
		}
	}
	return positions
}

func (a *piperArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	if len(positions) != 6 {
		return fmt.Errorf("expected 6 joint positions for Piper, got %d", len(positions))
	}

	var target [6]float64
	for i, input := range positions {
		target[i] = float64(input)
	}
	target = a.clampToLimits(target)

	a.isMoving.Store(true)
	defer a.isMoving.Store(false)

	// A burst keeps the motors fed without blocking; stream_seconds opts
	// into a blocking stream that holds the target until the arm settles.
	if extra != nil {
		if secs, ok := extra["stream_seconds"].(float64); ok && secs > 0 {
			duration := time.Duration(secs * float64(time.Second))
			return a.controller.CommandJointPositions(ctx, target, duration)
		}
		if stream, ok := extra["stream"].(bool); ok && stream {
			return a.controller.CommandJointPositions(ctx, target, DefaultStreamDuration)
		}
	}
	return a.controller.CommandJointPositionsBurst(ctx, target)
}

func (a *piperArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := a.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// JointPositions drains pending feedback and reports the refreshed state.
func (a *piperArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	state := a.controller.ReadState()
	positions := make([]referenceframe.Input, 6)
	for i, angle := range state.Joints {
		positions[i] = referenceframe.Input(angle)
	}
	return positions, nil
}

func (a *piperArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	return nil, errUnimplemented
}

func (a *piperArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	return errUnimplemented
}

func (a *piperArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.isMoving.Store(false)
	return a.controller.EmergencyStop()
}

func (a *piperArm) IsMoving(ctx context.Context) (bool, error) {
	return a.isMoving.Load(), nil
}

func (a *piperArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return a.model, nil
}

func (a *piperArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

func (a *piperArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (a *piperArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, errUnimplemented
}

func (a *piperArm) Get3DModels(ctx context.Context, extra map[string]interface{}) (map[string]*commonpb.Mesh, error) {
	return nil, errUnimplemented
}

func (a *piperArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "emergency_stop":
		err := a.controller.EmergencyStop()
		return map[string]interface{}{"success": err == nil}, err

	case "enable":
		err := a.controller.Enable()
		return map[string]interface{}{"success": err == nil}, err

	case "set_speed":
		percent, ok := cmd["speed_percent"].(float64)
		if !ok {
			return nil, errors.New("set_speed requires a numeric speed_percent")
		}
		if err := a.controller.SetSpeedPercent(int(percent)); err != nil {
			return nil, err
		}
		return map[string]interface{}{"speed_percent": int(percent)}, nil

	case "state":
		state := a.controller.ReadState()
		joints := make([]interface{}, 6)
		for i, j := range state.Joints {
			joints[i] = j * 180.0 / math.Pi
		}
		return map[string]interface{}{
			"joints_deg": joints,
			"gripper":    state.Gripper,
		}, nil

	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

func (a *piperArm) Close(ctx context.Context) error {
	a.logger.Info("Closing Piper arm")
	ReleaseSharedController(a.cfg.Port)
	return nil
}
