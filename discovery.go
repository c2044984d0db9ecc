// discovery.go
package piper_arm

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"

	"piper_arm/canbus"
)

var PiperDiscoveryModel = resource.NewModel("choreo", "piper", "discovery")

// How long to listen for joint feedback when probing a candidate port.
const probeTimeout = 500 * time.Millisecond

func init() {
	resource.RegisterService(
		discovery.API,
		PiperDiscoveryModel,
		resource.Registration[discovery.Service, *PiperDiscoveryConfig]{
			Constructor: newPiperDiscovery,
		})
}

// PiperDiscoveryConfig is the configuration for the discovery service
type PiperDiscoveryConfig struct {
	// Empty for now - could add port filters or bitrate options later
}

// Validate ensures the config is valid
func (cfg *PiperDiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

// piperDiscovery implements the discovery service
type piperDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
}

func newPiperDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	_, err := resource.NativeConfig[*PiperDiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &piperDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
	}, nil
}

// DiscoverResources scans serial ports for USB-CAN adapters with a responding
// Piper arm behind them and returns component configurations.
func (dis *piperDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting Piper discovery")

	allPorts := enumerateSerialPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		portConfigs := dis.discoverPort(portPath)
		allConfigs = append(allConfigs, portConfigs...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No Piper arms discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}

	return allConfigs, nil
}

// discoverPort probes a single port and generates component configurations
func (dis *piperDiscovery) discoverPort(portPath string) []resource.Config {
	dis.logger.Debugf("Checking port %s", portPath)

	if !dis.probePort(portPath) {
		dis.logger.Debugf("No Piper feedback detected on %s", portPath)
		return nil
	}

	dis.logger.Infof("Discovered Piper on %s", portPath)
	return dis.generateConfigs(portPath, extractPortSuffix(portPath))
}

// probePort opens the port as a Waveshare CAN bus and listens briefly for
// joint feedback frames. The Piper broadcasts feedback whenever powered, so
// any frame in the feedback ID range confirms an arm is attached.
func (dis *piperDiscovery) probePort(portPath string) bool {
	bus, err := canbus.Open(portPath, DefaultBitrate, dis.logger)
	if err != nil {
		dis.logger.Debugf("Failed to open port %s: %v", portPath, err)
		return false
	}
	defer bus.Close()

	deadline := time.Now().Add(probeTimeout)
	for time.Now().Before(deadline) {
		frame, ok, err := bus.Recv(time.Until(deadline))
		if err != nil || !ok {
			return false
		}
		if frame.ID >= jointFeedbackIDBase && frame.ID <= gripperFeedbackID {
			return true
		}
	}
	return false
}

// generateConfigs creates component configurations for a discovered arm
func (dis *piperDiscovery) generateConfigs(portPath, portSuffix string) []resource.Config {
	attrs := map[string]interface{}{
		"port": portPath,
	}

	return []resource.Config{
		{
			Name:       "piper-arm-" + portSuffix,
			API:        arm.API,
			Model:      PiperArmModel,
			Attributes: attrs,
		},
		{
			Name:       "piper-gripper-" + portSuffix,
			API:        gripper.API,
			Model:      PiperGripperModel,
			Attributes: attrs,
		},
		{
			Name:       "piper-state-" + portSuffix,
			API:        sensor.API,
			Model:      PiperStateSensorModel,
			Attributes: attrs,
		},
	}
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches USB-CAN adapter port patterns
func isCandidatePort(port string) bool {
	return canbus.IsAdapterPort(port)
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	// For macOS /dev/tty.usb* ports, strip the "tty." prefix
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}

	return base
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
