package servo

import "errors"

// ErrOutOfRange is returned by SetTarget when a target violates the
// channel's configured soft limits and the channel does not opt into
// ClampOnViolation.
var ErrOutOfRange = errors.New("servo: target out of range")

// ErrUnknownChannel is returned when no ChannelLimits entry exists for the
// requested channel.
var ErrUnknownChannel = errors.New("servo: unknown channel")

// ErrWrongDevice is returned when an address naming a different device is
// submitted to this Driver.
var ErrWrongDevice = errors.New("servo: address belongs to a different device")

// ErrForbidden is returned when the configured Gate declines to authorize
// a write (system state is not Normal, or this device is withheld).
var ErrForbidden = errors.New("servo: write forbidden by current system state")
