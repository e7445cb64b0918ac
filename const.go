package improv

import "github.com/google/uuid"

// This file includes constants of the Improv BLE protocol.

var (
	ServiceUUID      = uuid.MustParse("00467768-6228-2272-4663-277478268000")
	StatusUUID       = uuid.MustParse("00467768-6228-2272-4663-277478268001")
	ErrorUUID        = uuid.MustParse("00467768-6228-2272-4663-277478268002")
	RPCCommandUUID   = uuid.MustParse("00467768-6228-2272-4663-277478268003")
	RPCResultUUID    = uuid.MustParse("00467768-6228-2272-4663-277478268004")
	CapabilitiesUUID = uuid.MustParse("00467768-6228-2272-4663-277478268005")
)

// A Role identifies one of the characteristics of the Improv service.
type Role int

const (
	RoleUnknown Role = iota
	RoleStatus
	RoleError
	RoleRPCCommand
	RoleRPCResult
	RoleCapabilities
)

// Roles lists the characteristics of the Improv service in registration order.
var Roles = []Role{RoleStatus, RoleError, RoleRPCCommand, RoleRPCResult, RoleCapabilities}

var roleUUIDs = map[Role]uuid.UUID{
	RoleStatus:       StatusUUID,
	RoleError:        ErrorUUID,
	RoleRPCCommand:   RPCCommandUUID,
	RoleRPCResult:    RPCResultUUID,
	RoleCapabilities: CapabilitiesUUID,
}

// UUID returns the characteristic UUID of r, or uuid.Nil for RoleUnknown.
func (r Role) UUID() uuid.UUID {
	return roleUUIDs[r]
}

// Readable reports whether centrals may read the characteristic.
// Every characteristic of the service is readable.
func (r Role) Readable() bool { return r != RoleUnknown }

// Writable reports whether centrals may write the characteristic.
func (r Role) Writable() bool { return r == RoleRPCCommand }

// Notifiable reports whether the characteristic supports notifications.
func (r Role) Notifiable() bool {
	return r == RoleStatus || r == RoleError || r == RoleRPCResult
}

func (r Role) String() string {
	switch r {
	case RoleStatus:
		return "Status"
	case RoleError:
		return "Error"
	case RoleRPCCommand:
		return "RPCCommand"
	case RoleRPCResult:
		return "RPCResult"
	case RoleCapabilities:
		return "Capabilities"
	}
	return "Unknown"
}

// RoleOf maps a characteristic UUID to its role. Characteristics that do
// not belong to the Improv service map to RoleUnknown.
func RoleOf(u uuid.UUID) Role {
	for r, ru := range roleUUIDs {
		if ru == u {
			return r
		}
	}
	return RoleUnknown
}

// State is the provisioning state of the device.
type State byte

const (
	StateStopped      State = 0x00
	StateReady        State = 0x01 // authorized, waiting for credentials
	StateProvisioning State = 0x03
	StateProvisioned  State = 0x04
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateReady:
		return "Ready"
	case StateProvisioning:
		return "Provisioning"
	case StateProvisioned:
		return "Provisioned"
	}
	return "Unknown"
}

// Error is the error state reported through the Error characteristic.
type Error byte

const (
	ErrorNone              Error = 0x00
	ErrorInvalidRPCPacket  Error = 0x01
	ErrorUnknownRPCCommand Error = 0x02
	ErrorUnableToConnect   Error = 0x03
	ErrorNotAuthorized     Error = 0x04
	ErrorUnknown           Error = 0xFF
)

func (e Error) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorInvalidRPCPacket:
		return "InvalidRPCPacket"
	case ErrorUnknownRPCCommand:
		return "UnknownRPCCommand"
	case ErrorUnableToConnect:
		return "UnableToConnect"
	case ErrorNotAuthorized:
		return "NotAuthorized"
	}
	return "Unknown"
}

// CommandType is the first byte of an RPC command or result frame.
type CommandType byte

const (
	CommandWifiSettings              CommandType = 0x01
	CommandIdentify                  CommandType = 0x02
	CommandRequestCurrentState       CommandType = 0x03
	CommandRequestDeviceCapabilities CommandType = 0x04
)

// Known reports whether t is a command the device understands.
func (t CommandType) Known() bool {
	return t >= CommandWifiSettings && t <= CommandRequestDeviceCapabilities
}

func (t CommandType) String() string {
	switch t {
	case CommandWifiSettings:
		return "WifiSettings"
	case CommandIdentify:
		return "Identify"
	case CommandRequestCurrentState:
		return "RequestCurrentState"
	case CommandRequestDeviceCapabilities:
		return "RequestDeviceCapabilities"
	}
	return "Unknown"
}

// Capabilities is the bitset served by the Capabilities characteristic.
// Unknown bits are reserved and always zero.
type Capabilities byte

const CapabilityIdentify Capabilities = 1 << 0

// Has reports whether all bits of c2 are set in c.
func (c Capabilities) Has(c2 Capabilities) bool { return c&c2 == c2 }
