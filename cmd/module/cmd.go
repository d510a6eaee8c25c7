// package main is a module for sigfox devices
package main

import (
	"github.com/viam-modules/sigfox/device"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
)

func main() {
	module.ModularMain(
		resource.APIModel{API: sensor.API, Model: device.Model},
	)
}
