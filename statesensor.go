// statesensor.go - Piper arm state sensor component
package piper_arm

import (
	"context"
	"fmt"
	"math"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	PiperStateSensorModel = resource.NewModel("choreo", "piper", "state")
)

func init() {
	resource.RegisterComponent(sensor.API, PiperStateSensorModel,
		resource.Registration[sensor.Sensor, *PiperStateSensorConfig]{
			Constructor: newPiperStateSensor,
		},
	)
}

// PiperStateSensorConfig represents the configuration for the state sensor
type PiperStateSensorConfig struct {
	Port string `json:"port"`

	Bitrate int `json:"bitrate,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *PiperStateSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}

	if cfg.Bitrate == 0 {
		cfg.Bitrate = DefaultBitrate
	}

	return nil, nil, nil
}

// piperStateSensor exposes the cached arm feedback as sensor readings.
type piperStateSensor struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	port       string
	controller *SafePiperController
}

func newPiperStateSensor(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	cfg, err := resource.NativeConfig[*PiperStateSensorConfig](conf)
	if err != nil {
		return nil, err
	}

	controllerConfig := &PiperConfig{
		Port:    cfg.Port,
		Bitrate: cfg.Bitrate,
		Logger:  logger,
	}
	if _, _, err := controllerConfig.Validate(""); err != nil {
		return nil, err
	}

	controller, err := GetSharedController(controllerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared controller for state sensor: %w", err)
	}

	return &piperStateSensor{
		name:       conf.ResourceName(),
		logger:     logger,
		port:       cfg.Port,
		controller: controller,
	}, nil
}

func (s *piperStateSensor) Name() resource.Name {
	return s.name
}

func (s *piperStateSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	state := s.controller.ReadState()

	readings := make(map[string]interface{}, 13)
	for i, angle := range state.Joints {
		readings[fmt.Sprintf("joint_%d_rad", i+1)] = angle
		readings[fmt.Sprintf("joint_%d_deg", i+1)] = angle * 180.0 / math.Pi
	}
	readings["gripper"] = state.Gripper
	return readings, nil
}

func (s *piperStateSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, fmt.Errorf("unknown command: %v", cmd["command"])
}

func (s *piperStateSensor) Close(ctx context.Context) error {
	ReleaseSharedController(s.port)
	return nil
}
