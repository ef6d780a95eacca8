// Package telemetry implements the telemetry aggregator (C10): on a fixed
// tick, it composes a fresh model.TelemetrySnapshot from the other
// components' last-known state and broadcasts it by value to subscribers.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shimmerlabs/animacore/internal/constants"
	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
)

// ServoSource is the narrow read surface for one device's cached channel
// positions, satisfied by internal/servo.Driver.
type ServoSource interface {
	Positions() map[model.ActuatorAddress]uint16
}

// StepperSource is the narrow read surface for a stepper axis, satisfied by
// internal/stepper.Controller.
type StepperSource interface {
	Snapshot() model.StepperState
}

// SensorSource is the narrow read surface for engineering values, satisfied
// by internal/sensor.Sampler.
type SensorSource interface {
	Snapshot() model.SensorSnapshot
}

// StateSource is the narrow read surface for the safety supervisor's
// authoritative state, satisfied by internal/safety.Supervisor.
type StateSource interface {
	State() model.SystemState
}

// LinkSource reports whether a shared link is currently quarantined,
// satisfied by internal/scheduler.Scheduler.
type LinkSource interface {
	Quarantined() bool
}

// Config constructs an Aggregator.
type Config struct {
	Servos   map[model.DeviceID]ServoSource
	Stepper  StepperSource
	Sensors  SensorSource
	State    StateSource
	Links    []LinkSource
	Interval time.Duration
	Logger   interfaces.Logger
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = constants.PublishInterval
	}
}

// Aggregator composes and broadcasts TelemetrySnapshots on a fixed tick. It
// also serves as the sink for every component's alert callback
// (sensor degraded, limit unexpected, transport down), so the next
// published snapshot always reflects the latest known condition rather than
// requiring a subscriber to separately track each alert source.
type Aggregator struct {
	cfg    Config
	logger interfaces.Logger

	alertMu sync.Mutex
	alerts  map[model.AlertCode]bool

	subMu     sync.Mutex
	subs      map[int]chan model.TelemetrySnapshot
	nextSubID int

	// lastTMs is the last published snapshot's t_ms, so a backward wall-clock
	// step (NTP slew, VM migration) can never produce a non-increasing
	// timestamp: nextTMs always returns max(now, lastTMs+1).
	lastTMs int64

	cancel context.CancelFunc
	done   chan struct{}
}

// nextTMs returns a millisecond timestamp strictly greater than the last
// one this Aggregator published, even if wall-clock time has gone backward
// or hasn't advanced since the previous call.
func (a *Aggregator) nextTMs() int64 {
	now := time.Now().UnixMilli()
	for {
		last := atomic.LoadInt64(&a.lastTMs)
		next := now
		if next <= last {
			next = last + 1
		}
		if atomic.CompareAndSwapInt64(&a.lastTMs, last, next) {
			return next
		}
	}
}

// New constructs an Aggregator; call Start to begin publishing.
func New(cfg Config) *Aggregator {
	cfg.setDefaults()
	return &Aggregator{
		cfg:    cfg,
		logger: cfg.Logger,
		alerts: make(map[model.AlertCode]bool),
		subs:   make(map[int]chan model.TelemetrySnapshot),
		done:   make(chan struct{}),
	}
}

// SetSources wires the read sources after construction: New is typically
// called early so OnSensorAlert/OnStepperAlert are available as callbacks
// to pass into the sensor sampler and stepper controller's own Config
// before either exists as a telemetry.*Source, so Compose has nothing to
// read from yet. SetSources fills in Servos/Stepper/Sensors/State/Links
// once those components are built; Interval and Logger are left alone.
func (a *Aggregator) SetSources(cfg Config) {
	a.cfg.Servos = cfg.Servos
	a.cfg.Stepper = cfg.Stepper
	a.cfg.Sensors = cfg.Sensors
	a.cfg.State = cfg.State
	a.cfg.Links = cfg.Links
}

// RaiseAlert records code as active or cleared, for the next published
// snapshot. Its signature matches internal/sensor's OnAlert; the stepper's
// single-argument OnAlert is wired through OnStepperAlert instead.
func (a *Aggregator) RaiseAlert(code model.AlertCode, active bool) {
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	if active {
		a.alerts[code] = true
	} else {
		delete(a.alerts, code)
	}
}

// raiseAlertOneShot adapts a single-argument alert callback (stepper's
// unexpected-limit fault, which has no "cleared" transition) to RaiseAlert.
func (a *Aggregator) raiseAlertOneShot(code model.AlertCode) {
	a.RaiseAlert(code, true)
}

// OnSensorAlert matches internal/sensor.Config.OnAlert's signature.
func (a *Aggregator) OnSensorAlert(code model.AlertCode, active bool) {
	a.RaiseAlert(code, active)
}

// OnStepperAlert matches internal/stepper.Config.OnAlert's signature.
func (a *Aggregator) OnStepperAlert(code model.AlertCode) {
	a.raiseAlertOneShot(code)
}

func (a *Aggregator) activeAlerts() []model.AlertCode {
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	for _, l := range a.cfg.Links {
		if l.Quarantined() {
			a.alerts[model.AlertTransportDown] = true
		} else {
			delete(a.alerts, model.AlertTransportDown)
		}
	}
	if len(a.alerts) == 0 {
		return nil
	}
	out := make([]model.AlertCode, 0, len(a.alerts))
	for code := range a.alerts {
		out = append(out, code)
	}
	return out
}

// Start launches the publish loop, ticking every Config.Interval until ctx
// is cancelled.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.run(ctx)
}

// Stop cancels the publish loop and waits for it to exit.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
}

func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.publish()
		}
	}
}

// Compose builds one snapshot from the configured sources without
// publishing it, for callers (e.g. the dispatcher's get_telemetry op) that
// want an on-demand read rather than waiting for the next tick.
func (a *Aggregator) Compose() model.TelemetrySnapshot {
	snap := model.TelemetrySnapshot{
		TMs:    a.nextTMs(),
		State:  model.StateIdle,
		Alerts: a.activeAlerts(),
	}

	if a.cfg.Sensors != nil {
		s := a.cfg.Sensors.Snapshot()
		snap.VoltageV = s.Voltage.Value
		snap.CurrentACh1 = s.Current1.Value
		snap.CurrentACh2 = s.Current2.Value
	}
	if a.cfg.Stepper != nil {
		snap.Stepper = a.cfg.Stepper.Snapshot()
	}
	if a.cfg.State != nil {
		snap.State = a.cfg.State.State()
	}
	if len(a.cfg.Servos) > 0 {
		positions := make(map[model.ActuatorAddress]uint16)
		for _, servo := range a.cfg.Servos {
			for addr, us := range servo.Positions() {
				positions[addr] = us
			}
		}
		snap.ServoPositions = positions
	}
	return snap
}

func (a *Aggregator) publish() {
	snap := a.Compose()
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- snap.Clone():
		default:
		}
	}
}

// Subscribe returns a channel of published snapshots and an unsubscribe
// func. A subscriber that falls constants.SubscriberChannelDepth ticks
// behind silently misses intermediate snapshots rather than blocking
// publication, matching the safety/scene subscription shape.
func (a *Aggregator) Subscribe() (<-chan model.TelemetrySnapshot, func()) {
	ch := make(chan model.TelemetrySnapshot, constants.SubscriberChannelDepth)
	a.subMu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = ch
	a.subMu.Unlock()

	unsubscribe := func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		if c, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}
