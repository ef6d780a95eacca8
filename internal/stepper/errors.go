package stepper

import "errors"

// ErrNotEnabled is returned when Home or MoveTo is requested on a disabled axis.
var ErrNotEnabled = errors.New("stepper: axis not enabled")

// ErrNotHomed is returned when MoveTo is requested before a successful Home.
var ErrNotHomed = errors.New("stepper: axis not homed")

// ErrOutOfSoftLimits is returned when a requested target falls outside the
// configured soft travel limits.
var ErrOutOfSoftLimits = errors.New("stepper: target outside soft limits")

// ErrBusy is returned when a second move is submitted while one is already
// in flight and the configured ReplacePolicy does not permit a swap.
var ErrBusy = errors.New("stepper: axis busy with an opposing move")

// ErrHomingTimeout is returned when the limit switch is not detected within
// the configured maximum homing step bound.
var ErrHomingTimeout = errors.New("stepper: homing exceeded max step bound")

// ErrForbidden is returned when the configured Gate declines to authorize
// a motion.
var ErrForbidden = errors.New("stepper: motion forbidden by current system state")

// ErrNotFaulted is returned when ClearFault is called outside Faulted mode.
var ErrNotFaulted = errors.New("stepper: not in a faulted state")

// ErrStopped is returned to a caller awaiting a command the controller
// could not process because it was shutting down.
var ErrStopped = errors.New("stepper: controller stopped")
