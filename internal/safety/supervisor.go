// Package safety implements the safety supervisor (C7): it owns the
// authoritative SystemState, gates writes in the servo (C3) and stepper
// (C5) drivers through a narrow Gate contract, and drives the
// Normal/Failsafe/Emergency state machine from sensor thresholds and the
// physical e-stop input.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/constants"
	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
)

// StopAller is satisfied by a servo.Driver: halts all pending and future
// writes for one device immediately.
type StopAller interface {
	StopAll(ctx context.Context) error
}

// AxisStopper is satisfied by a stepper.Controller: halts the axis at the
// next step boundary and transitions it to Faulted.
type AxisStopper interface {
	Stop(ctx context.Context) error
}

// AxisDisabler is satisfied by a stepper.Controller: drives the enable pin
// low without consulting the gate, the forced counterpart to SetEnabled used
// when the supervisor itself is the one closing the gate.
type AxisDisabler interface {
	ForceDisable(ctx context.Context) error
}

// SnapshotSource is satisfied by a sensor.Sampler: the latest analog
// readings the supervisor evaluates against its thresholds.
type SnapshotSource interface {
	Snapshot() model.SensorSnapshot
}

// Config constructs a Supervisor.
type Config struct {
	EstopPin gpio.Pin       // optional; nil disables physical e-stop monitoring
	Sensors  SnapshotSource // optional; nil disables threshold escalation

	Servos   []StopAller
	Steppers []AxisStopper

	// WithheldInFailsafe lists the device IDs (servo or stepper axis) whose
	// writes Authorize rejects while the system is in Failsafe; all others
	// remain commandable (track-motor channels and stepper enable are
	// forced to a safe level, other servos stay live).
	WithheldInFailsafe []model.DeviceID

	// FailsafeAxes are force-disabled (enable pin driven low) on every
	// transition into Failsafe, independent of WithheldInFailsafe: a
	// withheld axis still has its gate closed for new writes, this is what
	// actually de-energizes it.
	FailsafeAxes []AxisDisabler

	// CancelActiveScene is invoked (if set) on every transition into
	// Emergency.
	CancelActiveScene func(reason string)

	Logger interfaces.Logger

	// VLow and IMax are the Failsafe escalation thresholds; TDwell is how
	// long a violation must persist before escalating. Recovery to Normal
	// requires voltage >= VLow+VRecoverMargin for TRecover.
	VLow           float64
	IMax           float64
	TDwell         time.Duration
	TRecover       time.Duration
	VRecoverMargin float64

	WatchdogInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = constants.WatchdogInterval
	}
}

// Supervisor owns SystemState and authorizes device writes.
type Supervisor struct {
	cfg    Config
	logger interfaces.Logger

	mu       sync.RWMutex
	state    model.SystemState
	withheld map[model.DeviceID]bool

	dwellSince    time.Time
	recoverSince  time.Time
	estopAsserted time.Time

	subMu     sync.Mutex
	subs      map[int]chan model.SystemState
	nextSubID int

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Supervisor starting in Normal with nothing withheld.
func New(cfg Config) *Supervisor {
	cfg.setDefaults()
	return &Supervisor{
		cfg:      cfg,
		logger:   cfg.Logger,
		state:    model.StateNormal,
		withheld: make(map[model.DeviceID]bool),
		subs:     make(map[int]chan model.SystemState),
		done:     make(chan struct{}),
	}
}

// Start launches the watchdog goroutine that re-evaluates sensor and e-stop
// health every WatchdogInterval even absent an external trigger.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// Stop halts the watchdog goroutine.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

// State returns the current system state.
func (s *Supervisor) State() model.SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Authorize implements the Gate contract consumed by internal/servo and
// internal/stepper.
func (s *Supervisor) Authorize(device model.DeviceID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case model.StateEmergency:
		return ErrSystemEmergency
	case model.StateFailsafe:
		if s.withheld[device] {
			return fmt.Errorf("%w: %s", ErrWithheld, device)
		}
		return nil
	default:
		return nil
	}
}

// Subscribe returns a channel of state transitions and an unsubscribe func.
// Delivery is lossy: a slow subscriber misses intermediate transitions but
// the channel is always sent the latest.
func (s *Supervisor) Subscribe() (<-chan model.SystemState, func()) {
	ch := make(chan model.SystemState, 1)
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (s *Supervisor) broadcast(state model.SystemState) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// RequestEmergencyStop transitions to Emergency from any state: it is the
// software-originated counterpart to a physical e-stop edge.
func (s *Supervisor) RequestEmergencyStop(ctx context.Context, reason string) error {
	return s.enterEmergency(ctx, reason)
}

func (s *Supervisor) enterEmergency(ctx context.Context, reason string) error {
	s.mu.Lock()
	if s.state == model.StateEmergency {
		s.mu.Unlock()
		return nil
	}
	s.state = model.StateEmergency
	for dev := range s.withheld {
		delete(s.withheld, dev)
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Warn("entering emergency", "reason", reason)
	}
	s.broadcast(model.StateEmergency)

	s.mu.Lock()
	cancelScene := s.cfg.CancelActiveScene
	s.mu.Unlock()
	if cancelScene != nil {
		cancelScene(reason)
	}
	for _, servo := range s.cfg.Servos {
		if err := servo.StopAll(ctx); err != nil && s.logger != nil {
			s.logger.Error("stop_all failed during emergency entry", "error", err.Error())
		}
	}
	for _, axis := range s.cfg.Steppers {
		if err := axis.Stop(ctx); err != nil && s.logger != nil {
			s.logger.Error("axis stop failed during emergency entry", "error", err.Error())
		}
	}
	return nil
}

// ClearEmergency is the only path out of Emergency, per the SystemState
// machine: Emergency -> Normal requires an explicit clear.
func (s *Supervisor) ClearEmergency(ctx context.Context) error {
	s.mu.Lock()
	if s.state != model.StateEmergency {
		s.mu.Unlock()
		return ErrNotEmergency
	}
	s.state = model.StateNormal
	s.dwellSince = time.Time{}
	s.recoverSince = time.Time{}
	s.estopAsserted = time.Time{}
	s.mu.Unlock()

	s.broadcast(model.StateNormal)
	return nil
}

// SetCancelActiveScene wires the scene engine's cancellation callback after
// construction, breaking the safety/scene construction cycle: the scene
// engine needs this Supervisor to exist as its StateChecker before it can
// be built, so the callback is attached once the engine exists.
func (s *Supervisor) SetCancelActiveScene(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.CancelActiveScene = fn
}

// ForceFailsafe transitions Normal -> Failsafe on operator request (the
// enable_failsafe command), independent of the watchdog's own sensor-driven
// evaluation. A no-op outside Normal.
func (s *Supervisor) ForceFailsafe() {
	s.enterFailsafe(context.Background())
}

// ClearFailsafe transitions Failsafe -> Normal on operator request (the
// disable_failsafe command). Outside Failsafe it changes nothing and
// returns an error; unlike
// recoverToNormal it is not gated on the watchdog's recovery dwell, since
// the operator is accepting responsibility for the early clear.
func (s *Supervisor) ClearFailsafe() error {
	s.mu.Lock()
	if s.state != model.StateFailsafe {
		s.mu.Unlock()
		return fmt.Errorf("clear_failsafe: not in failsafe")
	}
	s.state = model.StateNormal
	for dev := range s.withheld {
		delete(s.withheld, dev)
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("failsafe cleared by operator")
	}
	s.broadcast(model.StateNormal)
	return nil
}

func (s *Supervisor) enterFailsafe(ctx context.Context) {
	s.mu.Lock()
	if s.state != model.StateNormal {
		s.mu.Unlock()
		return
	}
	s.state = model.StateFailsafe
	for _, dev := range s.cfg.WithheldInFailsafe {
		s.withheld[dev] = true
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Warn("entering failsafe")
	}
	s.broadcast(model.StateFailsafe)

	for _, axis := range s.cfg.FailsafeAxes {
		if err := axis.ForceDisable(ctx); err != nil && s.logger != nil {
			s.logger.Error("force disable failed during failsafe entry", "error", err.Error())
		}
	}
}

func (s *Supervisor) recoverToNormal() {
	s.mu.Lock()
	if s.state != model.StateFailsafe {
		s.mu.Unlock()
		return
	}
	s.state = model.StateNormal
	for dev := range s.withheld {
		delete(s.withheld, dev)
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("recovered to normal")
	}
	s.broadcast(model.StateNormal)
}

// evaluate is the watchdog tick body: checks the e-stop pin (if configured)
// and sensor thresholds (if configured), applying debounce, dwell, and
// hysteresis.
func (s *Supervisor) evaluate(ctx context.Context) {
	now := time.Now()

	if s.cfg.EstopPin != nil {
		level, err := s.cfg.EstopPin.Read()
		if err == nil && level == gpio.Low {
			if s.estopAsserted.IsZero() {
				s.estopAsserted = now
			}
			if now.Sub(s.estopAsserted) >= constants.EstopDebounce {
				_ = s.enterEmergency(ctx, "estop input asserted")
				return
			}
		} else {
			s.estopAsserted = time.Time{}
		}
	}

	if s.cfg.Sensors == nil {
		return
	}
	snap := s.cfg.Sensors.Snapshot()
	violating := (s.cfg.VLow > 0 && snap.Voltage.Value < s.cfg.VLow) ||
		(s.cfg.IMax > 0 && (snap.Current1.Value > s.cfg.IMax || snap.Current2.Value > s.cfg.IMax))

	state := s.State()
	switch state {
	case model.StateNormal:
		if violating {
			if s.dwellSince.IsZero() {
				s.dwellSince = now
			}
			if now.Sub(s.dwellSince) >= s.cfg.TDwell {
				s.enterFailsafe(ctx)
			}
		} else {
			s.dwellSince = time.Time{}
		}
	case model.StateFailsafe:
		recovered := snap.Voltage.Value >= s.cfg.VLow+s.cfg.VRecoverMargin &&
			(s.cfg.IMax <= 0 || (snap.Current1.Value <= s.cfg.IMax && snap.Current2.Value <= s.cfg.IMax))
		if recovered {
			if s.recoverSince.IsZero() {
				s.recoverSince = now
			}
			if now.Sub(s.recoverSince) >= s.cfg.TRecover {
				s.recoverToNormal()
			}
		} else {
			s.recoverSince = time.Time{}
		}
	}
}
