// Package config loads animacore's persisted JSON configuration files and
// watches them for changes with fsnotify, handing validated updates to a
// Reloader rather than applying them itself. Grounded on
// 99souls-ariadne's internal/runtime HotReloadSystem (watch the containing
// directory, filter events by exact file name, reload on Write) generalized
// from a single YAML file to this core's three JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
)

// HardwareConfig is hardware_config.json: transport, GPIO pin assignment,
// I2C ADC location and calibration, stepper kinematics, the safety
// watchdog's failsafe thresholds and the devices withheld in failsafe.
type HardwareConfig struct {
	SerialPort string      `json:"serial_port"`
	BaudRate   int         `json:"baud_rate"`
	Stepper    StepperSpec `json:"stepper"`
	VLow       float64     `json:"v_low"`
	IMax       float64     `json:"i_max"`

	// GPIOPins maps the logical pin names Stepper's *Pin fields reference
	// (e.g. "step", "limit", "estop") to the physical pin names
	// periph.io's host resolves (e.g. "GPIO17"), the map NewPeriphBank wants.
	GPIOPins map[string]string `json:"gpio_pins"`

	// I2CBus and ADCAddr locate the analog sampler's ADS1115-style ADC.
	I2CBus  string `json:"i2c_bus"`
	ADCAddr uint16 `json:"adc_addr"`

	// Calibrations keys by SensorChannel.String() ("voltage",
	// "current_ch1", "current_ch2") rather than by index, so the JSON file
	// stays self-describing.
	Calibrations map[string]model.Calibration `json:"calibrations"`

	// FailsafeWithheldDevices lists the track-motor servo devices ("d1",
	// "d2") whose writes are rejected while the system is in Failsafe; a
	// device absent from this list stays commandable. The stepper axis is
	// always force-disabled on Failsafe entry independent of this list.
	FailsafeWithheldDevices []string `json:"failsafe_withheld_devices"`
}

// FailsafeWithheldDeviceIDs resolves FailsafeWithheldDevices into the
// []model.DeviceID safety.Config.WithheldInFailsafe wants.
func (h HardwareConfig) FailsafeWithheldDeviceIDs() ([]model.DeviceID, error) {
	out := make([]model.DeviceID, 0, len(h.FailsafeWithheldDevices))
	for _, name := range h.FailsafeWithheldDevices {
		switch name {
		case "d1":
			out = append(out, model.DeviceD1)
		case "d2":
			out = append(out, model.DeviceD2)
		default:
			return nil, fmt.Errorf("hardware_config: unknown failsafe_withheld_devices entry %q", name)
		}
	}
	return out, nil
}

// CalibrationsByChannel resolves Calibrations' string keys into the
// map[model.SensorChannel]model.Calibration internal/sensor.Config wants.
// A channel absent from the file gets the identity calibration (A=1, B=0).
func (h HardwareConfig) CalibrationsByChannel() (map[model.SensorChannel]model.Calibration, error) {
	names := map[string]model.SensorChannel{
		model.ChannelVoltage.String():  model.ChannelVoltage,
		model.ChannelCurrent1.String(): model.ChannelCurrent1,
		model.ChannelCurrent2.String(): model.ChannelCurrent2,
	}
	out := map[model.SensorChannel]model.Calibration{
		model.ChannelVoltage:  {A: 1},
		model.ChannelCurrent1: {A: 1},
		model.ChannelCurrent2: {A: 1},
	}
	for key, cal := range h.Calibrations {
		ch, ok := names[key]
		if !ok {
			return nil, fmt.Errorf("hardware_config: unknown calibration channel %q", key)
		}
		out[ch] = cal
	}
	return out, nil
}

// StepperSpec is the JSON form of model.StepperConfig plus its soft limits,
// which live alongside kinematics in hardware_config.json rather than in
// servo_config.json since the stepper has no per-channel catalog.
type StepperSpec struct {
	StepsPerRev  int     `json:"steps_per_rev"`
	LeadPitchMm  float64 `json:"lead_pitch_mm"`
	MaxTravelCm  float64 `json:"max_travel_cm"`
	HomingSps    float64 `json:"homing_sps"`
	NormalSps    float64 `json:"normal_sps"`
	MaxSps       float64 `json:"max_sps"`
	AccelSps2    float64 `json:"accel_sps2"`
	StepPin      string  `json:"step_pin"`
	DirPin       string  `json:"dir_pin"`
	EnablePin    string  `json:"enable_pin"`
	LimitPin     string  `json:"limit_pin"`
	EstopPin     string  `json:"estop_pin"`
	MaxHomeSteps int64   `json:"max_home_steps"`
	SoftMinSteps int64   `json:"soft_min_steps"`
	SoftMaxSteps int64   `json:"soft_max_steps"`
}

// ToModel converts the JSON spec into the stepper package's runtime config.
func (s StepperSpec) ToModel() model.StepperConfig {
	return model.StepperConfig{
		StepsPerRev:  s.StepsPerRev,
		LeadPitchMm:  s.LeadPitchMm,
		MaxTravelCm:  s.MaxTravelCm,
		HomingSps:    s.HomingSps,
		NormalSps:    s.NormalSps,
		MaxSps:       s.MaxSps,
		AccelSps2:    s.AccelSps2,
		StepPin:      s.StepPin,
		DirPin:       s.DirPin,
		EnablePin:    s.EnablePin,
		LimitPin:     s.LimitPin,
		EstopPin:     s.EstopPin,
		MaxHomeSteps: s.MaxHomeSteps,
	}
}

// ChannelSpec is one entry of servo_config.json: a channel's label and
// software-enforced motion bounds.
type ChannelSpec struct {
	Device           string  `json:"device"`
	Channel          uint8   `json:"channel"`
	Name             string  `json:"name"`
	MinUs            uint16  `json:"min_us"`
	MaxUs            uint16  `json:"max_us"`
	HomeUs           uint16  `json:"home_us"`
	Accel            *uint8  `json:"accel,omitempty"`
	ClampOnViolation bool    `json:"clamp_on_violation"`
}

// ServoConfig is servo_config.json: the full per-channel limit catalog.
type ServoConfig struct {
	Channels []ChannelSpec `json:"channels"`
}

// ByDevice groups the catalog's channel limits by device, the shape
// internal/servo.Config.Limits wants.
func (s ServoConfig) ByDevice() (map[model.DeviceID]map[uint8]model.ChannelLimits, error) {
	out := make(map[model.DeviceID]map[uint8]model.ChannelLimits)
	for _, c := range s.Channels {
		var dev model.DeviceID
		switch c.Device {
		case "d1":
			dev = model.DeviceD1
		case "d2":
			dev = model.DeviceD2
		default:
			return nil, fmt.Errorf("servo_config: unknown device %q", c.Device)
		}
		limits := model.ChannelLimits{
			MinUs: c.MinUs, MaxUs: c.MaxUs, HomeUs: c.HomeUs,
			Name: c.Name, Accel: c.Accel, ClampOnViolation: c.ClampOnViolation,
		}
		if !limits.Valid() {
			return nil, fmt.Errorf("servo_config: invalid limits for %s ch%d", c.Device, c.Channel)
		}
		if out[dev] == nil {
			out[dev] = make(map[uint8]model.ChannelLimits)
		}
		out[dev][c.Channel] = limits
	}
	return out, nil
}

// SceneSpec is the JSON form of model.Scene.
type SceneSpec struct {
	Name       string             `json:"name"`
	DurationS  float64            `json:"duration_s"`
	Audio      *model.SceneAudio  `json:"audio,omitempty"`
	ScriptDev1 *uint8             `json:"script_dev1,omitempty"`
	ScriptDev2 *uint8             `json:"script_dev2,omitempty"`
	ServoMoves map[string]model.SceneMove `json:"servo_moves,omitempty"`
	Categories []string           `json:"categories,omitempty"`
	Emoji      string             `json:"emoji,omitempty"`
}

// ToModel resolves the JSON "dN_chM" address keys into model.ActuatorAddress.
func (s SceneSpec) ToModel() (model.Scene, error) {
	moves := make(map[model.ActuatorAddress]model.SceneMove, len(s.ServoMoves))
	for key, mv := range s.ServoMoves {
		addr, err := model.ParseActuatorAddress(key)
		if err != nil {
			return model.Scene{}, fmt.Errorf("scene %q: %w", s.Name, err)
		}
		moves[addr] = mv
	}
	scene := model.Scene{
		Name:       s.Name,
		DurationS:  s.DurationS,
		Audio:      s.Audio,
		ScriptDev1: s.ScriptDev1,
		ScriptDev2: s.ScriptDev2,
		ServoMoves: moves,
		Categories: s.Categories,
		Emoji:      s.Emoji,
	}
	if err := scene.Validate(); err != nil {
		return model.Scene{}, err
	}
	return scene, nil
}

// SceneCatalog is scenes_config.json: the full scene catalog.
type SceneCatalog struct {
	Scenes []SceneSpec `json:"scenes"`
}

// ToModel resolves every scene in the catalog, failing on the first invalid
// entry so a bad catalog is rejected atomically rather than partially applied.
func (s SceneCatalog) ToModel() (map[string]model.Scene, error) {
	out := make(map[string]model.Scene, len(s.Scenes))
	for _, spec := range s.Scenes {
		scene, err := spec.ToModel()
		if err != nil {
			return nil, err
		}
		out[scene.Name] = scene
	}
	return out, nil
}

const (
	hardwareFileName = "hardware_config.json"
	servoFileName    = "servo_config.json"
	scenesFileName   = "scenes_config.json"
)

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Bundle is every config file loaded and validated together, the unit a
// Reload call either fully applies or fully rejects.
type Bundle struct {
	Hardware HardwareConfig
	Servo    ServoConfig
	Scenes   SceneCatalog
}

// Load reads all three config files from dir.
func Load(dir string) (Bundle, error) {
	var b Bundle
	if err := loadJSON(filepath.Join(dir, hardwareFileName), &b.Hardware); err != nil {
		return Bundle{}, err
	}
	if err := loadJSON(filepath.Join(dir, servoFileName), &b.Servo); err != nil {
		return Bundle{}, err
	}
	if err := loadJSON(filepath.Join(dir, scenesFileName), &b.Scenes); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// Reloader is the port a hot-reload applies a single validated file's new
// contents to: it applies validated updates atomically or rejects with an
// error and keeps the prior config. Satisfied by the root System.
type Reloader interface {
	Reload(name string, dir string) error
}

// Watcher watches dir for writes to the three config files and calls
// r.Reload(name, dir) for the one that changed. It never parses or applies
// anything itself — that responsibility, and the validate-or-keep-prior
// decision, belongs entirely to the Reloader.
type Watcher struct {
	dir      string
	reloader Reloader
	logger   interfaces.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher constructs a Watcher over dir; call Start to begin watching.
func NewWatcher(dir string, r Reloader, logger interfaces.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch dir %s: %w", dir, err)
	}
	return &Watcher{dir: dir, reloader: r, logger: logger, watcher: fw, done: make(chan struct{})}, nil
}

var watchedNames = map[string]bool{
	hardwareFileName: true,
	servoFileName:    true,
	scenesFileName:   true,
}

// Start launches the watch loop. Close stops it.
func (w *Watcher) Start() {
	go w.run()
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(e.Name)
			if !watchedNames[name] {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reloader.Reload(name, w.dir); err != nil {
				if w.logger != nil {
					w.logger.Error("config reload rejected", "file", name, "error", err.Error())
				}
				continue
			}
			if w.logger != nil {
				w.logger.Info("config reloaded", "file", name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Error("config watcher error", "error", err.Error())
			}
		}
	}
}
