package animacore

import (
	"context"
	"fmt"
	"sync"

	"github.com/shimmerlabs/animacore/internal/audio"
	"github.com/shimmerlabs/animacore/internal/config"
	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
	"github.com/shimmerlabs/animacore/internal/safety"
	"github.com/shimmerlabs/animacore/internal/scene"
	"github.com/shimmerlabs/animacore/internal/scheduler"
	"github.com/shimmerlabs/animacore/internal/sensor"
	"github.com/shimmerlabs/animacore/internal/servo"
	"github.com/shimmerlabs/animacore/internal/stepper"
	"github.com/shimmerlabs/animacore/internal/telemetry"
	"github.com/shimmerlabs/animacore/internal/transport"
)

// System wires every component (C1-C10) into one addressable unit: the
// command dispatcher's receiver, the config Reloader, and the thing a
// cmd/animacored main starts and stops. It owns no protocol adapter itself
// (no websocket, no HTTP) — that lives outside this module, at the core's
// edge.
type System struct {
	ConfigDir string

	Transport transport.Transport
	Scheduler *scheduler.Scheduler
	Servos    map[model.DeviceID]*servo.Driver
	Stepper   *stepper.Controller
	Sensors   *sensor.Sampler
	Safety    *safety.Supervisor
	Audio     *audio.Player
	Scenes    *scene.Engine
	Telemetry *telemetry.Aggregator
	Metrics   *Metrics

	GPIO gpio.Bank

	logger interfaces.Logger

	stepperSpec config.StepperSpec

	mu     sync.RWMutex
	scenes map[string]model.Scene
}

// Dependencies bundles the out-of-core choices New needs: how to build the
// serial transport and GPIO bank (real hardware vs. fakes), and a logger.
// Splitting this from Bundle keeps config.Load's pure-data types free of
// anything that touches a physical device.
type Dependencies struct {
	Transport    transport.Transport
	GPIO         gpio.Bank
	ADC          sensor.ADC
	Calibrations map[model.SensorChannel]model.Calibration
	Audio        audio.Config
	Logger       interfaces.Logger
}

// NewSystem constructs a System from a loaded config.Bundle and the
// supplied Dependencies, wiring C1 through C10 in dependency order: the
// servo and stepper drivers are built gate-less first (since the safety
// supervisor's StopAller/AxisStopper lists need them to already exist),
// the supervisor is built around them, and SetGate/SetCancelActiveScene/
// SetSources close the four construction cycles (servo<->safety,
// stepper<->safety, safety<->scene, telemetry<->everything) afterward.
func NewSystem(configDir string, b config.Bundle, deps Dependencies) (*System, error) {
	logger := deps.Logger
	metrics := NewMetrics()

	sched := scheduler.New(scheduler.Config{
		Transport: deps.Transport,
		Logger:    logger,
		Observer:  NewMetricsObserver(metrics),
		Merger:    servo.SetTargetMerger{},
	})

	servoLimits, err := b.Servo.ByDevice()
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	servos := map[model.DeviceID]*servo.Driver{
		model.DeviceD1: servo.New(servo.Config{DeviceID: model.DeviceD1, Scheduler: sched, Logger: logger, Limits: servoLimits[model.DeviceD1]}),
		model.DeviceD2: servo.New(servo.Config{DeviceID: model.DeviceD2, Scheduler: sched, Logger: logger, Limits: servoLimits[model.DeviceD2]}),
	}

	telem := telemetry.New(telemetry.Config{Logger: logger})

	stepperCtrl, err := stepper.New(stepper.Config{
		Axis:    model.DeviceD1,
		Bank:    deps.GPIO,
		Logger:  logger,
		Stepper: b.Hardware.Stepper.ToModel(),
		SoftMin: b.Hardware.Stepper.SoftMinSteps,
		SoftMax: b.Hardware.Stepper.SoftMaxSteps,
		OnAlert: telem.OnStepperAlert,
	})
	if err != nil {
		return nil, fmt.Errorf("system: stepper: %w", err)
	}

	sampler := sensor.New(sensor.Config{
		ADC:          deps.ADC,
		Calibrations: deps.Calibrations,
		Logger:       logger,
		OnAlert:      telem.OnSensorAlert,
	})

	var estopPin gpio.Pin
	if b.Hardware.Stepper.EstopPin != "" {
		p, err := deps.GPIO.Pin(b.Hardware.Stepper.EstopPin)
		if err != nil {
			return nil, fmt.Errorf("system: estop pin: %w", err)
		}
		estopPin = p
	}

	withheld, err := b.Hardware.FailsafeWithheldDeviceIDs()
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}

	sup := safety.New(safety.Config{
		EstopPin:           estopPin,
		Sensors:            sampler,
		Servos:             []safety.StopAller{servos[model.DeviceD1], servos[model.DeviceD2]},
		Steppers:           []safety.AxisStopper{stepperCtrl},
		WithheldInFailsafe: withheld,
		FailsafeAxes:       []safety.AxisDisabler{stepperCtrl},
		VLow:               b.Hardware.VLow,
		IMax:               b.Hardware.IMax,
		Logger:             logger,
	})
	servos[model.DeviceD1].SetGate(sup)
	servos[model.DeviceD2].SetGate(sup)
	stepperCtrl.SetGate(sup)

	audioPlayer := audio.New(deps.Audio)

	sceneEngine := scene.New(scene.Config{
		Servos: map[model.DeviceID]scene.ServoDriver{
			model.DeviceD1: servos[model.DeviceD1],
			model.DeviceD2: servos[model.DeviceD2],
		},
		Audio:  audioPlayer,
		State:  sup,
		Logger: logger,
	})
	sup.SetCancelActiveScene(sceneEngine.CancelActive)

	telem.SetSources(telemetry.Config{
		Servos: map[model.DeviceID]telemetry.ServoSource{
			model.DeviceD1: servos[model.DeviceD1],
			model.DeviceD2: servos[model.DeviceD2],
		},
		Stepper: stepperCtrl,
		Sensors: sampler,
		State:   sup,
		Links:   []telemetry.LinkSource{sched},
	})

	scenes, err := b.Scenes.ToModel()
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}

	return &System{
		ConfigDir:   configDir,
		Transport:   deps.Transport,
		Scheduler:   sched,
		Servos:      servos,
		Stepper:     stepperCtrl,
		Sensors:     sampler,
		Safety:      sup,
		Audio:       audioPlayer,
		Scenes:      sceneEngine,
		Telemetry:   telem,
		Metrics:     metrics,
		GPIO:        deps.GPIO,
		logger:      logger,
		stepperSpec: b.Hardware.Stepper,
		scenes:      scenes,
	}, nil
}

// Start launches every component with a real background loop: C2's worker,
// C5's step emitter, C6's sampler, C7's watchdog, C10's telemetry ticker.
func (s *System) Start(ctx context.Context) {
	s.Scheduler.Start(ctx)
	s.Stepper.Start(ctx)
	s.Sensors.Start(ctx)
	s.Safety.Start(ctx)
	s.Telemetry.Start(ctx)
}

// Stop halts every component's background loop in the reverse order they
// were started, so a dependent never observes its dependency stop first.
func (s *System) Stop() {
	s.Telemetry.Stop()
	s.Safety.Stop()
	s.Stepper.StopLoop()
	s.Scheduler.Stop()
}

// SceneCatalog returns the current scene catalog, for the get_scene_list
// command.
func (s *System) SceneCatalog() map[string]model.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Scene, len(s.scenes))
	for k, v := range s.scenes {
		out[k] = v
	}
	return out
}

func (s *System) sceneByName(name string) (model.Scene, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[name]
	return scene, ok
}

// Reload implements config.Reloader: it re-reads name from dir, validates
// it, and atomically swaps in the new state, or leaves the prior
// configuration untouched and returns the validation error. Scene edits
// apply to subsequent plays immediately; servo-limit changes apply on each
// channel's next command (servo.Driver.SetLimits already only takes effect
// there, since it just replaces the map a future SetTarget call reads).
func (s *System) Reload(name string, dir string) error {
	switch name {
	case "scenes_config.json":
		b, err := config.Load(dir)
		if err != nil {
			return err
		}
		scenes, err := b.Scenes.ToModel()
		if err != nil {
			return New("reload.scenes", CodeConfigInvalid, err.Error())
		}
		s.mu.Lock()
		s.scenes = scenes
		s.mu.Unlock()
		return nil
	case "servo_config.json":
		b, err := config.Load(dir)
		if err != nil {
			return err
		}
		grouped, err := b.Servo.ByDevice()
		if err != nil {
			return New("reload.servo_config", CodeConfigInvalid, err.Error())
		}
		for dev, driver := range s.Servos {
			driver.SetLimits(grouped[dev])
		}
		return nil
	case "hardware_config.json":
		// Transport, GPIO and stepper kinematics are fixed at process start
		// in this core; reject explicitly rather than silently ignoring a
		// file the operator expected to take effect.
		return New("reload.hardware_config", CodeConfigInvalid, "hardware_config.json requires a process restart")
	default:
		return New("reload", CodeConfigInvalid, fmt.Sprintf("unknown config file %q", name))
	}
}

var _ config.Reloader = (*System)(nil)
