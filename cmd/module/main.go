package main

import (
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"

	youpi "youpi_arm"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: arm.API, Model: youpi.ArmModel},
		resource.APIModel{API: gripper.API, Model: youpi.GripperModel},
		resource.APIModel{API: sensor.API, Model: youpi.CalibrationSensorModel},
		resource.APIModel{API: discovery.API, Model: youpi.DiscoveryModel},
	)
}
