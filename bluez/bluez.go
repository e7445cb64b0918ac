// Package bluez serves an improv.Service through BlueZ over D-Bus, using
// tinygo.org/x/bluetooth. Unlike package gattsrv it shares the adapter
// with bluetoothd.
package bluez

import (
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/XC-/improv"
)

// UUID converts u to a bluetooth.UUID.
func UUID(u uuid.UUID) bluetooth.UUID {
	b, err := bluetooth.ParseUUID(u.String())
	if err != nil {
		// u.String is always in canonical form.
		panic(err)
	}
	return b
}

// Flags returns the characteristic permissions for r.
func Flags(r improv.Role) bluetooth.CharacteristicPermissions {
	var f bluetooth.CharacteristicPermissions
	if r.Readable() {
		f |= bluetooth.CharacteristicReadPermission
	}
	if r.Writable() {
		f |= bluetooth.CharacteristicWritePermission
	}
	if r.Notifiable() {
		f |= bluetooth.CharacteristicNotifyPermission
	}
	return f
}
