package piper_arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	PiperGripperModel = resource.NewModel("choreo", "piper", "gripper")
)

const (
	gripperOpenPosition   = 1.0
	gripperClosedPosition = 0.0

	// How long to wait for the gripper to finish travel before reading
	// back its position.
	gripperSettleTime = 500 * time.Millisecond

	// Feedback above this fraction of open after a close command means
	// the jaws stalled on an object.
	gripperHoldThreshold = 0.05
)

type PiperGripperConfig struct {
	Port string `json:"port"`

	Bitrate           int `json:"bitrate,omitempty"`
	CommandIntervalMS int `json:"command_interval_ms,omitempty"`
	SpeedPercent      int `json:"speed_percent,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *PiperGripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}

	if cfg.Bitrate == 0 {
		cfg.Bitrate = DefaultBitrate
	}

	return nil, nil, nil
}

type piperGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	port       string
	controller *SafePiperController
	geometries []spatialmath.Geometry

	mu       sync.Mutex
	isMoving atomic.Bool
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		PiperGripperModel,
		resource.Registration[gripper.Gripper, *PiperGripperConfig]{
			Constructor: newPiperGripper,
		},
	)
}

func newPiperGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*PiperGripperConfig](conf)
	if err != nil {
		return nil, err
	}

	controllerConfig := &PiperConfig{
		Port:              cfg.Port,
		Bitrate:           cfg.Bitrate,
		CommandIntervalMS: cfg.CommandIntervalMS,
		SpeedPercent:      cfg.SpeedPercent,
		Logger:            logger,
	}
	if _, _, err := controllerConfig.Validate(""); err != nil {
		return nil, err
	}

	controller, err := GetSharedController(controllerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared controller for gripper: %w", err)
	}

	clawSize := r3.Vector{X: 42.0, Y: 80.0, Z: 130.0}
	claws, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: clawSize.Z / 2}), clawSize, "claws")
	if err != nil {
		ReleaseSharedController(cfg.Port)
		return nil, err
	}

	g := &piperGripper{
		name:       conf.ResourceName(),
		logger:     logger,
		port:       cfg.Port,
		controller: controller,
		geometries: []spatialmath.Geometry{claws},
	}

	logger.Debugf("Piper gripper initialized on port %s", cfg.Port)
	return g, nil
}

func (g *piperGripper) Name() resource.Name {
	return g.name
}

func (g *piperGripper) moveTo(position float64) error {
	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	if err := g.controller.CommandGripper(position); err != nil {
		return err
	}
	time.Sleep(gripperSettleTime)
	return nil
}

func (g *piperGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("Opening gripper")
	if err := g.moveTo(gripperOpenPosition); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	return nil
}

func (g *piperGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Debug("Closing gripper")
	if err := g.moveTo(gripperClosedPosition); err != nil {
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}

	// If the jaws stopped short of fully closed, something is between them.
	position := g.controller.ReadState().Gripper
	grabbed := position > gripperHoldThreshold
	if grabbed {
		g.logger.Debugf("Gripper stalled at %.3f, object grabbed", position)
	} else {
		g.logger.Debugf("Gripper closed to %.3f, nothing grabbed", position)
	}
	return grabbed, nil
}

func (g *piperGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.isMoving.Store(false)
	position := g.controller.ReadState().Gripper
	return g.controller.CommandGripper(position)
}

func (g *piperGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *piperGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *piperGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_position":
		return map[string]interface{}{
			"position": g.controller.ReadState().Gripper,
		}, nil

	case "set_position":
		position, ok := cmd["position"].(float64)
		if !ok {
			return nil, fmt.Errorf("set_position command requires a 'position' parameter")
		}
		if position < 0 {
			position = 0
		}
		if position > 1 {
			position = 1
		}

		g.mu.Lock()
		defer g.mu.Unlock()
		err := g.moveTo(position)
		return map[string]interface{}{"success": err == nil}, err

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *piperGripper) Close(ctx context.Context) error {
	ReleaseSharedController(g.port)
	return nil
}

func (g *piperGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *piperGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *piperGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *piperGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{}, errors.ErrUnsupported
}
