package gattsrv

import (
	"github.com/paypal/gatt"

	"github.com/XC-/improv/config"
)

// DeviceOptions returns the gatt.NewDevice options for c. CoreBluetooth
// picks the adapter and advertising parameters itself.
func DeviceOptions(c config.GATTConfig) []gatt.Option {
	return []gatt.Option{
		gatt.MacDeviceRole(gatt.PeripheralManager),
	}
}
