// Package servo implements the per-device servo controller driver (C3):
// validates commands against configured channel limits, encodes them into
// the Maestro-compatible wire format, and submits them through the shared
// scheduler, caching the last-commanded position per channel.
package servo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
	"github.com/shimmerlabs/animacore/internal/scheduler"
	"github.com/shimmerlabs/animacore/internal/wire"
)

// Gate is the narrow read interface servo consults before every write,
// satisfied by the safety supervisor (C7). It exists so this package never
// imports the supervisor directly, breaking the servo<->safety construction
// cycle.
type Gate interface {
	Authorize(device model.DeviceID) error
}

// Driver is one logical servo controller instance. Two Drivers (one per
// device) share a single *scheduler.Scheduler.
type Driver struct {
	deviceID model.DeviceID
	sched    *scheduler.Scheduler
	gate     Gate
	logger   interfaces.Logger

	mu     sync.RWMutex
	limits map[uint8]model.ChannelLimits
	cached map[uint8]uint16
}

// Config constructs a Driver.
type Config struct {
	DeviceID  model.DeviceID
	Scheduler *scheduler.Scheduler
	Gate      Gate
	Logger    interfaces.Logger
	Limits    map[uint8]model.ChannelLimits
}

// New constructs a Driver for one device.
func New(cfg Config) *Driver {
	limits := cfg.Limits
	if limits == nil {
		limits = make(map[uint8]model.ChannelLimits)
	}
	return &Driver{
		deviceID: cfg.DeviceID,
		sched:    cfg.Scheduler,
		gate:     cfg.Gate,
		logger:   cfg.Logger,
		limits:   limits,
		cached:   make(map[uint8]uint16),
	}
}

func (d *Driver) DeviceID() uint8 { return uint8(d.deviceID) }

// SetGate wires the safety supervisor after construction, breaking the
// servo/safety construction cycle: the supervisor's StopAller list needs
// this Driver to already exist, so the Driver is built gate-less and the
// gate is attached once the supervisor is built around it.
func (d *Driver) SetGate(gate Gate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = gate
}

// SetLimits replaces the channel limit table, e.g. on config hot-reload.
func (d *Driver) SetLimits(limits map[uint8]model.ChannelLimits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits = limits
}

// Limits returns one channel's currently configured limits, for the
// get_servo_config command.
func (d *Driver) Limits(channel uint8) (model.ChannelLimits, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.limits[channel]
	return l, ok
}

// SetOneLimit updates a single channel's limits in place, for the
// set_servo_config command. Takes effect on the channel's next command
// rather than retroactively.
func (d *Driver) SetOneLimit(channel uint8, limits model.ChannelLimits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits[channel] = limits
}

// SetTarget validates cmd against the channel's configured limits and, if
// valid, submits a Set Target request at the given priority. It never
// clamps silently: an out-of-range target is rejected so the caller sees
// its own mistake, unless the channel opts into ClampOnViolation.
func (d *Driver) SetTarget(ctx context.Context, cmd model.ServoCommand) error {
	if cmd.Address.Device != d.deviceID {
		return fmt.Errorf("%w: %s", ErrWrongDevice, cmd.Address)
	}

	d.mu.RLock()
	limits, ok := d.limits[cmd.Address.Channel]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, cmd.Address)
	}

	target := cmd.TargetUs
	if !limits.InRange(target) {
		if !limits.ClampOnViolation {
			return fmt.Errorf("%w: %s target %dus outside [%d,%d]", ErrOutOfRange, cmd.Address, target, limits.MinUs, limits.MaxUs)
		}
		target = limits.Clamp(target)
	}

	if err := d.authorize(); err != nil {
		return err
	}

	if cmd.Speed != nil {
		if err := d.SetSpeed(ctx, cmd.Address, *cmd.Speed); err != nil {
			return err
		}
	}
	if cmd.Acceleration != nil {
		if err := d.SetAcceleration(ctx, cmd.Address, *cmd.Acceleration); err != nil {
			return err
		}
	}

	payload := wire.SetTarget(cmd.Address.Channel, target)
	if err := d.submit(ctx, payload, cmd.Priority, true, "set_target"); err != nil {
		return fmt.Errorf("servo.set_target: %w", err)
	}

	d.mu.Lock()
	d.cached[cmd.Address.Channel] = target
	d.mu.Unlock()
	return nil
}

// SetSpeed issues a Set Speed command for one channel.
func (d *Driver) SetSpeed(ctx context.Context, addr model.ActuatorAddress, speed uint8) error {
	if err := d.authorize(); err != nil {
		return err
	}
	payload := wire.SetSpeed(addr.Channel, speed)
	if err := d.submit(ctx, payload, model.PriorityNormal, false, ""); err != nil {
		return fmt.Errorf("servo.set_speed: %w", err)
	}
	return nil
}

// SetAcceleration issues a Set Acceleration command for one channel.
func (d *Driver) SetAcceleration(ctx context.Context, addr model.ActuatorAddress, accel uint8) error {
	if err := d.authorize(); err != nil {
		return err
	}
	payload := wire.SetAcceleration(addr.Channel, accel)
	if err := d.submit(ctx, payload, model.PriorityNormal, false, ""); err != nil {
		return fmt.Errorf("servo.set_acceleration: %w", err)
	}
	return nil
}

// GetPosition returns the cached last-commanded target for addr. The cache
// is updated only after a successful write.
func (d *Driver) GetPosition(addr model.ActuatorAddress) (uint16, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	us, ok := d.cached[addr.Channel]
	return us, ok
}

// Positions returns a snapshot of every channel's cached last-commanded
// target, keyed by full address, for the telemetry aggregator (C10).
func (d *Driver) Positions() map[model.ActuatorAddress]uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[model.ActuatorAddress]uint16, len(d.cached))
	for ch, us := range d.cached {
		out[model.ActuatorAddress{Device: d.deviceID, Channel: ch}] = us
	}
	return out
}

// RunSubscript triggers a device-resident subroutine, used by scenes.
func (d *Driver) RunSubscript(ctx context.Context, scriptNo uint8) error {
	if err := d.authorize(); err != nil {
		return err
	}
	payload := wire.RestartScript(scriptNo)
	if err := d.submit(ctx, payload, model.PriorityNormal, false, ""); err != nil {
		return fmt.Errorf("servo.run_subscript: %w", err)
	}
	return nil
}

// StopAll issues the highest-priority stop for this device and discards any
// of its pending lower-priority writes still queued, rather than relying
// solely on Emergency-priority ordering to outrun them.
func (d *Driver) StopAll(ctx context.Context) error {
	d.sched.CancelDevice(d.deviceID)
	payload := wire.StopScript()
	if err := d.submit(ctx, payload, model.PriorityEmergency, false, ""); err != nil {
		return fmt.Errorf("servo.stop_all: %w", err)
	}
	return nil
}

// SetTargetMerger adapts wire.MergeSetTargets to the scheduler.Merger
// contract: it pulls each request's raw payload and hands the run to
// MergeSetTargets, which rejects (via wire.ErrNotMergeable) anything that
// isn't a contiguous run of single-channel Set Target frames. Set Target
// commands expect no reply, so replyLen is always 0.
type SetTargetMerger struct{}

func (SetTargetMerger) Merge(reqs []*model.Request) ([]byte, int, error) {
	frames := make([][]byte, len(reqs))
	for i, r := range reqs {
		frames[i] = r.Payload
	}
	merged, err := wire.MergeSetTargets(frames)
	if err != nil {
		return nil, 0, err
	}
	return merged, 0, nil
}

var _ scheduler.Merger = SetTargetMerger{}

func (d *Driver) authorize() error {
	d.mu.RLock()
	gate := d.gate
	d.mu.RUnlock()
	if gate == nil {
		return nil
	}
	if err := gate.Authorize(d.deviceID); err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return nil
}

func (d *Driver) submit(ctx context.Context, payload []byte, priority model.Priority, batchable bool, batchKey string) error {
	req := &model.Request{
		DeviceID:    d.deviceID,
		Priority:    priority,
		Payload:     payload,
		EnqueueTime: time.Now(),
		Batchable:   batchable,
		BatchKey:    batchKey,
	}
	ch, err := d.sched.Submit(ctx, req)
	if err != nil {
		return err
	}
	res := <-ch
	return res.Err
}
