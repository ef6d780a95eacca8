package scene

import "errors"

// ErrSceneBusy is returned by Play when a scene is already active and the
// caller did not set replace=true.
var ErrSceneBusy = errors.New("scene: another scene is already active")

// ErrStateForbidsScene is returned by Play when the system is not in the
// Normal state.
var ErrStateForbidsScene = errors.New("scene: system state forbids starting a scene")

// ErrNoActiveScene is returned by Cancel when no scene is running.
var ErrNoActiveScene = errors.New("scene: no active scene to cancel")
