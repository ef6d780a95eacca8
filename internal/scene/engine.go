// Package scene implements the scene engine (C9): executes at most one
// named, timed, multi-actuator program at a time, coordinating the servo
// driver (C3) and audio player (C8) against a system-state gate (C7).
package scene

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
)

// ServoDriver is the narrow write surface the engine drives per device,
// satisfied by internal/servo.Driver.
type ServoDriver interface {
	SetTarget(ctx context.Context, cmd model.ServoCommand) error
	RunSubscript(ctx context.Context, scriptNo uint8) error
}

// AudioPlayer is the narrow surface the engine drives for scene-attached
// clips, satisfied by internal/audio.Player.
type AudioPlayer interface {
	Play(ctx context.Context, name string, delay time.Duration) error
	Stop() error
}

// StateChecker reports the current system state, satisfied by
// internal/safety.Supervisor.
type StateChecker interface {
	State() model.SystemState
}

// Config constructs an Engine.
type Config struct {
	Servos map[model.DeviceID]ServoDriver
	Audio  AudioPlayer
	State  StateChecker
	Logger interfaces.Logger
}

// Scene execution phase names, tracked per running scene so a telemetry
// consumer can see where it is, not just whether it's running. Grounded on
// other_examples' sonos-hub scene executor's updateStep pattern.
const (
	stepDispatchMoves   = "dispatch_moves"
	stepDispatchScripts = "dispatch_subscripts"
	stepStartAudio      = "start_audio"
	stepMonitor         = "monitor"
)

type running struct {
	scene  model.Scene
	cancel context.CancelFunc
	reason string

	mu    sync.Mutex
	steps []model.SceneStep
}

func newRunning(s model.Scene, cancel context.CancelFunc) *running {
	return &running{
		scene:  s,
		cancel: cancel,
		steps: []model.SceneStep{
			{Name: stepDispatchMoves, Status: model.StepPending},
			{Name: stepDispatchScripts, Status: model.StepPending},
			{Name: stepStartAudio, Status: model.StepPending},
			{Name: stepMonitor, Status: model.StepPending},
		},
	}
}

func (r *running) updateStep(name string, status model.StepStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.steps {
		if r.steps[i].Name != name {
			continue
		}
		r.steps[i].Status = status
		if err != nil {
			r.steps[i].Err = err.Error()
		}
		return
	}
}

func (r *running) snapshotSteps() []model.SceneStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SceneStep(nil), r.steps...)
}

// Engine executes one scene at a time.
type Engine struct {
	cfg    Config
	logger interfaces.Logger

	mu     sync.Mutex
	active *running

	subMu     sync.Mutex
	subs      map[int]chan model.SceneEvent
	nextSubID int
}

// New constructs an idle Engine.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[int]chan model.SceneEvent),
	}
}

// Subscribe returns a channel of scene completion/cancellation events.
func (e *Engine) Subscribe() (<-chan model.SceneEvent, func()) {
	ch := make(chan model.SceneEvent, 4)
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subs[id] = ch
	e.subMu.Unlock()

	unsubscribe := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (e *Engine) emit(evt model.SceneEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Play starts scene. If another scene is active, it is rejected with
// ErrSceneBusy unless replace is true, in which case the active scene is
// cancelled (audio stopped, SceneCancelled "replaced" emitted) before the
// new one starts. No stop is sent to the servo drivers on replace.
func (e *Engine) Play(ctx context.Context, s model.Scene, replace bool) error {
	if e.cfg.State != nil && e.cfg.State.State() != model.StateNormal {
		return ErrStateForbidsScene
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("scene: invalid scene %q: %w", s.Name, err)
	}

	e.mu.Lock()
	if e.active != nil {
		if !replace {
			e.mu.Unlock()
			return ErrSceneBusy
		}
		e.cancelActiveLocked("replaced")
	}

	sceneCtx, cancel := context.WithCancel(ctx)
	r := newRunning(s, cancel)
	e.active = r
	e.mu.Unlock()

	go e.run(sceneCtx, r)
	return nil
}

// Cancel stops the active scene, if any, reporting reason in the emitted
// SceneCancelled event.
func (e *Engine) Cancel(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ErrNoActiveScene
	}
	e.cancelActiveLocked(reason)
	return nil
}

// CancelActive matches the safety supervisor's scene-cancellation callback
// signature; it ignores ErrNoActiveScene since the supervisor calls it
// unconditionally on every emergency entry.
func (e *Engine) CancelActive(reason string) {
	_ = e.Cancel(reason)
}

func (e *Engine) cancelActiveLocked(reason string) {
	if e.active == nil {
		return
	}
	e.active.mu.Lock()
	e.active.reason = reason
	e.active.mu.Unlock()
	e.active.cancel()
}

func (e *Engine) run(ctx context.Context, r *running) {
	s := r.scene

	r.updateStep(stepDispatchMoves, model.StepRunning, nil)
	var moveErr error
	for addr, move := range s.ServoMoves {
		driver, ok := e.cfg.Servos[addr.Device]
		if !ok {
			continue
		}
		cmd := model.ServoCommand{
			Address:      addr,
			TargetUs:     move.TargetUs,
			Speed:        move.Speed,
			Acceleration: move.Accel,
			Priority:     model.PriorityNormal,
		}
		if err := driver.SetTarget(ctx, cmd); err != nil {
			moveErr = err
			if e.logger != nil {
				e.logger.Error("scene servo move failed", "scene", s.Name, "address", addr.String(), "error", err.Error())
			}
		}
	}
	r.updateStep(stepDispatchMoves, stepOutcome(moveErr), moveErr)

	r.updateStep(stepDispatchScripts, model.StepRunning, nil)
	err1 := e.runSubscript(ctx, model.DeviceD1, s.ScriptDev1, s.Name)
	err2 := e.runSubscript(ctx, model.DeviceD2, s.ScriptDev2, s.Name)
	scriptErr := err1
	if scriptErr == nil {
		scriptErr = err2
	}
	r.updateStep(stepDispatchScripts, stepOutcome(scriptErr), scriptErr)

	audioDone := make(chan struct{})
	if s.Audio != nil && e.cfg.Audio != nil {
		r.updateStep(stepStartAudio, model.StepRunning, nil)
		delay := time.Duration(s.Audio.DelayS * float64(time.Second))
		go func() {
			defer close(audioDone)
			select {
			case <-time.After(delay):
				err := e.cfg.Audio.Play(ctx, s.Audio.Clip, 0)
				r.updateStep(stepStartAudio, stepOutcome(err), err)
				if err != nil && e.logger != nil {
					e.logger.Error("scene audio play failed", "scene", s.Name, "error", err.Error())
				}
			case <-ctx.Done():
			}
		}()
	} else {
		r.updateStep(stepStartAudio, model.StepCompleted, nil)
		close(audioDone)
	}

	r.updateStep(stepMonitor, model.StepRunning, nil)
	durTimer := time.NewTimer(time.Duration(s.DurationS * float64(time.Second)))
	defer durTimer.Stop()

	select {
	case <-durTimer.C:
		r.updateStep(stepMonitor, model.StepCompleted, nil)
		e.finish(r, model.SceneEvent{Kind: model.SceneCompleted, SceneName: s.Name})
	case <-ctx.Done():
		if e.cfg.Audio != nil {
			_ = e.cfg.Audio.Stop()
		}
		r.mu.Lock()
		reason := r.reason
		r.mu.Unlock()
		r.updateStep(stepMonitor, model.StepFailed, ctx.Err())
		e.finish(r, model.SceneEvent{Kind: model.SceneCancelled, SceneName: s.Name, Reason: reason})
	}
}

func stepOutcome(err error) model.StepStatus {
	if err != nil {
		return model.StepFailed
	}
	return model.StepCompleted
}

func (e *Engine) runSubscript(ctx context.Context, device model.DeviceID, scriptNo *uint8, sceneName string) error {
	if scriptNo == nil {
		return nil
	}
	driver, ok := e.cfg.Servos[device]
	if !ok {
		return nil
	}
	if err := driver.RunSubscript(ctx, *scriptNo); err != nil {
		if e.logger != nil {
			e.logger.Error("scene subscript failed", "scene", sceneName, "device", device.String(), "error", err.Error())
		}
		return err
	}
	return nil
}

func (e *Engine) finish(r *running, evt model.SceneEvent) {
	e.mu.Lock()
	if e.active == r {
		e.active = nil
	}
	e.mu.Unlock()
	e.emit(evt)
}

// Active reports the currently running scene's name, if any.
func (e *Engine) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return "", false
	}
	return e.active.scene.Name, true
}

// ActiveSteps reports the currently running scene's per-phase progress, for
// a telemetry consumer that wants to see where a scene is, not just
// whether one is running.
func (e *Engine) ActiveSteps() ([]model.SceneStep, bool) {
	e.mu.Lock()
	r := e.active
	e.mu.Unlock()
	if r == nil {
		return nil, false
	}
	return r.snapshotSteps(), true
}
