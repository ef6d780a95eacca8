// Package model holds the shared value types for the actuator-command core:
// addresses, commands, limits, stepper/scene/telemetry state and the
// scheduler's request envelope. Types here carry no behavior beyond their
// own invariants; components in sibling packages own the state machines.
package model

import "fmt"

// DeviceID identifies one of the two servo controllers sharing the serial link.
type DeviceID uint8

const (
	DeviceD1 DeviceID = 1
	DeviceD2 DeviceID = 2
)

func (d DeviceID) String() string {
	switch d {
	case DeviceD1:
		return "d1"
	case DeviceD2:
		return "d2"
	default:
		return fmt.Sprintf("d%d", uint8(d))
	}
}

// ValidDeviceID reports whether d is one of the two known device numbers.
func ValidDeviceID(d DeviceID) bool {
	return d == DeviceD1 || d == DeviceD2
}

// MaxChannel is the highest legal channel number on a device (0..17 inclusive).
const MaxChannel = 17

// ActuatorAddress identifies one servo channel on one device. It is an
// immutable value: construct with NewActuatorAddress rather than composing
// the struct literal directly so malformed channels are caught at the edge.
type ActuatorAddress struct {
	Device  DeviceID
	Channel uint8
}

// NewActuatorAddress validates device and channel and returns the address.
func NewActuatorAddress(device DeviceID, channel uint8) (ActuatorAddress, error) {
	if !ValidDeviceID(device) {
		return ActuatorAddress{}, fmt.Errorf("invalid device id %d", device)
	}
	if channel > MaxChannel {
		return ActuatorAddress{}, fmt.Errorf("invalid channel %d (max %d)", channel, MaxChannel)
	}
	return ActuatorAddress{Device: device, Channel: channel}, nil
}

func (a ActuatorAddress) String() string {
	return fmt.Sprintf("%s_ch%d", a.Device, a.Channel)
}

// ParseActuatorAddress parses the wire form "dN_chM" used in command envelopes.
func ParseActuatorAddress(s string) (ActuatorAddress, error) {
	var dn, ch uint8
	if n, err := fmt.Sscanf(s, "d%d_ch%d", &dn, &ch); err != nil || n != 2 {
		return ActuatorAddress{}, fmt.Errorf("malformed channel address %q", s)
	}
	return NewActuatorAddress(DeviceID(dn), ch)
}
