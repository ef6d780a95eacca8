package safety

import "errors"

// ErrNotEmergency is returned by ClearEmergency when the supervisor is not
// currently in the Emergency state.
var ErrNotEmergency = errors.New("safety: not in emergency state")

// ErrWithheld is returned by Authorize for a device the current state
// withholds from writes (e.g. the stepper axis during Failsafe).
var ErrWithheld = errors.New("safety: device withheld in current state")

// ErrSystemEmergency is returned by Authorize whenever the system is in
// Emergency, regardless of which device asked.
var ErrSystemEmergency = errors.New("safety: system is in emergency state")
