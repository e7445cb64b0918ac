package gattsrv

import (
	"github.com/paypal/gatt"
	"github.com/sirupsen/logrus"
)

const maxDeviceNameOctets = 248

var (
	gapUUID             = gatt.UUID16(0x1800)
	gattUUID            = gatt.UUID16(0x1801)
	deviceNameUUID      = gatt.UUID16(0x2A00)
	appearanceUUID      = gatt.UUID16(0x2A01)
	peripheralPrivacy   = gatt.UUID16(0x2A02)
	preferredParamsUUID = gatt.UUID16(0x2A04)
	serviceChangedUUID  = gatt.UUID16(0x2A05)

	appearanceGeneric   = []byte{0x00, 0x00}
	preferredConnParams = []byte{0x06, 0x00, 0x06, 0x00, 0x00, 0x00, 0xd0, 0x07}
)

// NOTE: OSX provides GAP and GATT services, and they can't be customized.
// On Linux the device name has to match the advertised one, otherwise
// clients that read it after connecting show a different name.
func newGapService(name string) *gatt.Service {
	if len(name) > maxDeviceNameOctets {
		name = name[:maxDeviceNameOctets]
	}
	s := gatt.NewService(gapUUID)
	s.AddCharacteristic(deviceNameUUID).SetValue([]byte(name))
	s.AddCharacteristic(appearanceUUID).SetValue(appearanceGeneric)
	s.AddCharacteristic(peripheralPrivacy).SetValue([]byte{0x00})
	s.AddCharacteristic(preferredParamsUUID).SetValue(preferredConnParams)
	return s
}

// The service set never changes while the device is up, so Service
// Changed is never indicated.
func newGattService(log logrus.FieldLogger) *gatt.Service {
	s := gatt.NewService(gattUUID)
	s.AddCharacteristic(serviceChangedUUID).HandleNotifyFunc(
		func(r gatt.Request, n gatt.Notifier) {
			log.Debug("central subscribed to service changed")
		})
	return s
}
