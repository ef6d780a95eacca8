package model

// SceneAudio is the optional audio cue attached to a scene.
type SceneAudio struct {
	Clip    string
	DelayS  float64
}

// SceneMove is one channel's target within a scene's servo program.
type SceneMove struct {
	TargetUs uint16
	Speed    *uint8
	Accel    *uint8
}

// Scene is an immutable, named, time-bounded multi-actuator program. Scenes
// are reloaded atomically as a whole catalog; a running scene always
// executes against the snapshot it started with.
type Scene struct {
	Name        string
	DurationS   float64
	Audio       *SceneAudio
	ScriptDev1  *uint8
	ScriptDev2  *uint8
	ServoMoves  map[ActuatorAddress]SceneMove
	Categories  []string
	Emoji       string
}

// Validate checks the Scene invariant that any audio delay does not exceed
// the scene's total duration. Move addresses are not checked against the
// configured ChannelLimits, here or when a scene is loaded or played; a move
// on a channel with no limits fails when the servo driver executes it.
func (s Scene) Validate() error {
	if s.Audio != nil && s.Audio.DelayS > s.DurationS {
		return errSceneAudioDelayExceedsDuration
	}
	return nil
}

// SceneEventKind discriminates the scene engine's two terminal events.
type SceneEventKind uint8

const (
	SceneCompleted SceneEventKind = iota
	SceneCancelled
)

func (k SceneEventKind) String() string {
	if k == SceneCancelled {
		return "scene_cancelled"
	}
	return "scene_completed"
}

// SceneEvent is published by the scene engine (C9) when a running scene
// finishes, whether by reaching its duration or by cancellation.
type SceneEvent struct {
	Kind      SceneEventKind
	SceneName string
	Reason    string // set only for SceneCancelled
}

// StepStatus is one scene phase's progress, exposed so a telemetry
// consumer can see where an in-flight scene is rather than only whether
// one is running.
type StepStatus uint8

const (
	StepPending StepStatus = iota
	StepRunning
	StepCompleted
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepRunning:
		return "running"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return "pending"
	}
}

// SceneStep is one named phase of a running scene's execution (dispatch
// moves, dispatch subscripts, start audio, monitor).
type SceneStep struct {
	Name   string
	Status StepStatus
	Err    string // set only when Status is StepFailed
}
