package main

import (
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"

	piper "piper_arm"
)

func main() {
	// ModularMain can take multiple APIModel arguments, if your module implements multiple models.
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: piper.PiperArmModel},
		resource.APIModel{API: gripper.API, Model: piper.PiperGripperModel},
		resource.APIModel{API: sensor.API, Model: piper.PiperStateSensorModel},
		resource.APIModel{API: discovery.API, Model: piper.PiperDiscoveryModel},
	)
}
