// Package stepper implements the stepper axis controller (C5): homing,
// ramped step generation, soft-limit enforcement, and the Idle/Homing/
// Moving/Faulted state machine, driven through the GPIO abstraction (C4).
package stepper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/constants"
	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
)

// Gate is the narrow read interface the controller consults before every
// motion, satisfied by the safety supervisor (C7). Mirrors internal/servo's
// Gate so this package never imports the supervisor directly.
type Gate interface {
	Authorize(device model.DeviceID) error
}

type cmdKind uint8

const (
	cmdHome cmdKind = iota
	cmdStop
	cmdDisable
	cmdEnable
	cmdClearFault
)

type command struct {
	kind   cmdKind
	result chan error
}

// Config constructs a Controller. Axis is the DeviceID the stepper presents
// to Gate for authorization checks; NewSystem passes DeviceD1, so the
// stepper is authorized exactly as d1's servos are.
type Config struct {
	Axis    model.DeviceID
	Bank    gpio.Bank
	Gate    Gate
	Logger  interfaces.Logger
	Stepper model.StepperConfig
	SoftMin int64
	SoftMax int64

	// OnAlert is called (off the controller's goroutine lock) when the
	// limit switch trips unexpectedly during Moving, for the telemetry
	// aggregator's AlertLimitUnexpected signal.
	OnAlert func(model.AlertCode)
}

// Controller owns one stepper axis: its pins, its observable state, and the
// dedicated goroutine that emits step pulses.
type Controller struct {
	axis    model.DeviceID
	cfg     model.StepperConfig
	gate    Gate
	logger  interfaces.Logger
	onAlert func(model.AlertCode)

	stepPin, dirPin, enablePin, limitPin gpio.Pin

	mu          sync.Mutex
	state       model.StepperState
	targetSteps int64
	hasTarget   bool

	cmds   chan command
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New resolves cfg's pin names against bank and constructs a Controller in
// Idle, disabled, un-homed state.
func New(cfg Config) (*Controller, error) {
	step, err := cfg.Bank.Pin(cfg.Stepper.StepPin)
	if err != nil {
		return nil, fmt.Errorf("stepper: resolving step pin: %w", err)
	}
	dir, err := cfg.Bank.Pin(cfg.Stepper.DirPin)
	if err != nil {
		return nil, fmt.Errorf("stepper: resolving dir pin: %w", err)
	}
	enable, err := cfg.Bank.Pin(cfg.Stepper.EnablePin)
	if err != nil {
		return nil, fmt.Errorf("stepper: resolving enable pin: %w", err)
	}
	limit, err := cfg.Bank.Pin(cfg.Stepper.LimitPin)
	if err != nil {
		return nil, fmt.Errorf("stepper: resolving limit pin: %w", err)
	}

	if err := step.Configure(gpio.DirectionOutput, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("stepper: configuring step pin: %w", err)
	}
	if err := dir.Configure(gpio.DirectionOutput, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("stepper: configuring dir pin: %w", err)
	}
	if err := enable.Configure(gpio.DirectionOutput, gpio.PullNone); err != nil {
		return nil, fmt.Errorf("stepper: configuring enable pin: %w", err)
	}
	if err := limit.Configure(gpio.DirectionInput, gpio.PullUp); err != nil {
		return nil, fmt.Errorf("stepper: configuring limit pin: %w", err)
	}

	softMin, softMax := cfg.SoftMin, cfg.SoftMax
	if softMin == 0 && softMax == 0 {
		softMax = int64(cfg.Stepper.MaxTravelCm * cfg.Stepper.StepsPerCm())
	}

	c := &Controller{
		axis:      cfg.Axis,
		cfg:       cfg.Stepper,
		gate:      cfg.Gate,
		logger:    cfg.Logger,
		onAlert:   cfg.OnAlert,
		stepPin:   step,
		dirPin:    dir,
		enablePin: enable,
		limitPin:  limit,
		state: model.StepperState{
			Mode:         model.StepperIdle,
			SoftMinSteps: softMin,
			SoftMaxSteps: softMax,
		},
		cmds: make(chan command),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	return c, nil
}

// Start launches the step-emitter goroutine. It returns once the goroutine
// is running; callers stop it via ctx cancellation.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(ctx)
}

// StopLoop halts the emitter goroutine. Distinct from Stop(ctx), which is
// the AxisStopper-satisfying emergency halt of the axis itself.
func (c *Controller) StopLoop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// Snapshot returns a consistent copy of the controller's observable state.
func (c *Controller) Snapshot() model.StepperState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
		case <-c.wake:
			c.runMotion(ctx)
		}
	}
}

func (c *Controller) sendCommand(ctx context.Context, kind cmdKind) error {
	result := make(chan error, 1)
	select {
	case c.cmds <- command{kind: kind, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) authorize() error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate == nil {
		return nil
	}
	if err := gate.Authorize(c.axis); err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return nil
}

// SetGate wires the safety supervisor after construction, breaking the
// stepper/safety construction cycle the same way servo.Driver.SetGate does:
// the supervisor's AxisStopper list needs this Controller to already exist.
func (c *Controller) SetGate(gate Gate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = gate
}

// SetEnabled drives the enable pin and, when disabling mid-motion, halts the
// emitter at the next step boundary and returns to Idle.
func (c *Controller) SetEnabled(ctx context.Context, enabled bool) error {
	if err := c.authorize(); err != nil {
		return err
	}
	kind := cmdDisable
	if enabled {
		kind = cmdEnable
	}
	return c.sendCommand(ctx, kind)
}

// ForceDisable drives the enable pin low without consulting the gate,
// mirroring servo.Driver.StopAll: the safety supervisor calls this directly
// when it forces the axis to a safe level on entering Failsafe, a path that
// must not be blocked by the same gate it is itself closing.
func (c *Controller) ForceDisable(ctx context.Context) error {
	return c.sendCommand(ctx, cmdDisable)
}

// Home drives the axis toward the limit switch at homing speed until the
// debounced edge is detected, zeroing position on success. It blocks for the
// duration of the sweep.
func (c *Controller) Home(ctx context.Context) error {
	if err := c.authorize(); err != nil {
		return err
	}
	return c.sendCommand(ctx, cmdHome)
}

// Stop halts the emitter at the next step boundary and transitions to
// Faulted, matching the supervisor's emergency-stop contract.
func (c *Controller) Stop(ctx context.Context) error {
	return c.sendCommand(ctx, cmdStop)
}

// ClearFault returns a Faulted, homed axis to Idle.
func (c *Controller) ClearFault(ctx context.Context) error {
	return c.sendCommand(ctx, cmdClearFault)
}

// MoveTo validates target against homed state and soft limits, then either
// starts a new motion or, if one is already in flight, applies the
// configured ReplacePolicy. MoveTo does not block for the motion to
// complete; watch Snapshot for Mode transitioning back to Idle.
func (c *Controller) MoveTo(ctx context.Context, targetSteps int64) error {
	if err := c.authorize(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.state.Enabled {
		c.mu.Unlock()
		return ErrNotEnabled
	}
	if !c.state.Homed {
		c.mu.Unlock()
		return ErrNotHomed
	}
	if targetSteps < c.state.SoftMinSteps || targetSteps > c.state.SoftMaxSteps {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d outside [%d,%d]", ErrOutOfSoftLimits, targetSteps, c.state.SoftMinSteps, c.state.SoftMaxSteps)
	}

	if c.state.Mode == model.StepperMoving {
		current := c.state.PositionSteps
		pendingDir := sign(c.targetSteps - current)
		newDir := sign(targetSteps - current)
		if c.cfg.ReplacePolicy == model.RejectWhileMoving || (pendingDir != 0 && newDir != 0 && pendingDir != newDir) {
			c.mu.Unlock()
			return ErrBusy
		}
		c.targetSteps = targetSteps
		c.hasTarget = true
		c.mu.Unlock()
		c.signalWake()
		return nil
	}

	c.state.Mode = model.StepperMoving
	c.targetSteps = targetSteps
	c.hasTarget = true
	c.mu.Unlock()
	c.signalWake()
	return nil
}

func (c *Controller) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdEnable:
		c.mu.Lock()
		c.state.Enabled = true
		c.mu.Unlock()
		_ = c.enablePin.Write(gpio.High)
	case cmdDisable:
		c.mu.Lock()
		c.state.Enabled = false
		if c.state.Mode == model.StepperMoving {
			c.state.Mode = model.StepperIdle
		}
		c.hasTarget = false
		c.mu.Unlock()
		_ = c.enablePin.Write(gpio.Low)
	case cmdStop:
		c.mu.Lock()
		c.state.Mode = model.StepperFaulted
		c.hasTarget = false
		c.mu.Unlock()
	case cmdClearFault:
		c.mu.Lock()
		if c.state.Mode != model.StepperFaulted {
			err = ErrNotFaulted
		} else if !c.state.Homed {
			err = ErrNotHomed
		} else {
			c.state.Mode = model.StepperIdle
		}
		c.mu.Unlock()
	case cmdHome:
		err = c.runHoming(ctx)
	}
	cmd.result <- err
}

func (c *Controller) runHoming(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Enabled {
		c.mu.Unlock()
		return ErrNotEnabled
	}
	c.state.Mode = model.StepperHoming
	c.state.Homed = false
	c.mu.Unlock()

	homingSps := c.cfg.HomingSps
	if homingSps <= 0 {
		homingSps = constants.DefaultHomingSps
	}
	maxSteps := c.cfg.MaxHomeSteps
	if maxSteps <= 0 {
		maxSteps = constants.DefaultMaxHomeSteps
	}
	interval := time.Duration(float64(time.Second) / homingSps)

	c.setDirection(-1)
	consecutive := 0
	for i := int64(0); i < maxSteps; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.limitAsserted() {
			consecutive++
			if consecutive >= constants.HomingDebounceSamples {
				c.mu.Lock()
				c.state.PositionSteps = 0
				c.state.Homed = true
				c.state.Mode = model.StepperIdle
				c.mu.Unlock()
				return nil
			}
			time.Sleep(constants.HomingDebounceInterval)
			continue
		}
		consecutive = 0
		c.pulseStep()
		time.Sleep(interval)
	}

	c.mu.Lock()
	c.state.Mode = model.StepperFaulted
	c.mu.Unlock()
	return ErrHomingTimeout
}

// limitAsserted reports the debounced-candidate raw read of the limit pin.
// Active level is Low (pulled up, switch shorts to ground when tripped).
func (c *Controller) limitAsserted() bool {
	level, err := c.limitPin.Read()
	if err != nil {
		return false
	}
	return level == gpio.Low
}

func (c *Controller) runMotion(ctx context.Context) {
	c.mu.Lock()
	if c.state.Mode != model.StepperMoving || !c.hasTarget {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	vmax := c.cfg.NormalSps
	if vmax <= 0 {
		vmax = c.cfg.MaxSps
	}
	accel := c.cfg.AccelSps2
	if accel <= 0 {
		accel = vmax
	}
	v := constants.MinStepVelocitySps

	for {
		select {
		case cmd := <-c.cmds:
			c.handle(ctx, cmd)
			c.mu.Lock()
			stillMoving := c.state.Mode == model.StepperMoving
			c.mu.Unlock()
			if !stillMoving {
				return
			}
		case <-ctx.Done():
			return
		default:
		}

		if c.limitAsserted() {
			c.mu.Lock()
			c.state.Mode = model.StepperFaulted
			c.hasTarget = false
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Error("stepper limit switch tripped during motion", "axis", c.axis.String())
			}
			if c.onAlert != nil {
				c.onAlert(model.AlertLimitUnexpected)
			}
			return
		}

		c.mu.Lock()
		pos := c.state.PositionSteps
		target := c.targetSteps
		if pos == target {
			c.state.Mode = model.StepperIdle
			c.hasTarget = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		dir := sign(target - pos)
		remaining := absInt64(target - pos)

		decelDistance := (v * v) / (2 * accel)
		if float64(remaining) <= decelDistance && v > constants.MinStepVelocitySps {
			v = math.Sqrt(math.Max(constants.MinStepVelocitySps*constants.MinStepVelocitySps, v*v-2*accel))
		} else {
			v = math.Min(vmax, math.Sqrt(v*v+2*accel))
		}

		c.setDirection(dir)
		c.pulseStep()

		c.mu.Lock()
		c.state.PositionSteps += dir
		c.mu.Unlock()

		time.Sleep(time.Duration(float64(time.Second) / v))
	}
}

func (c *Controller) setDirection(dir int64) {
	level := gpio.Low
	if dir > 0 {
		level = gpio.High
	}
	_ = c.dirPin.Write(level)
}

func (c *Controller) pulseStep() {
	_ = c.stepPin.Pulse(constants.StepPulseMinHighNs, constants.StepPulseMinHighNs)
}

func sign(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
