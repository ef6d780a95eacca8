package gpio

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/host"
)

// PeriphBank resolves pin names to periph.io's host-registered GPIO pins by
// physical pin name (e.g. "GPIO17"). Construct once per process after
// InitHost.
type PeriphBank struct {
	names map[string]string // logical name -> physical pin name
}

// InitHost runs periph's one-time driver registration. Must be called
// before any PeriphBank is constructed.
func InitHost() error {
	_, err := host.Init()
	return err
}

// NewPeriphBank builds a Bank from a logical-name-to-physical-pin-name map,
// typically sourced from hardware_config.json.
func NewPeriphBank(names map[string]string) *PeriphBank {
	return &PeriphBank{names: names}
}

func (b *PeriphBank) Pin(name string) (Pin, error) {
	physical, ok := b.names[name]
	if !ok {
		return nil, &ErrUnknownPin{Name: name}
	}
	p := gpio.ByName(physical)
	if p == nil {
		return nil, fmt.Errorf("gpio: no such physical pin %q (for %q)", physical, name)
	}
	return &periphPin{pin: p}, nil
}

// periphPin adapts a periph.io gpio.PinIO to the narrower Pin contract.
type periphPin struct {
	pin gpio.PinIO
}

func (p *periphPin) Configure(dir Direction, pull Pull) error {
	if dir == DirectionOutput {
		return p.pin.Out(gpio.Low)
	}
	return p.pin.In(toPeriphPull(pull), gpio.NoEdge)
}

func (p *periphPin) Write(level Level) error {
	return p.pin.Out(toPeriphLevel(level))
}

func (p *periphPin) Read() (Level, error) {
	return fromPeriphLevel(p.pin.Read()), nil
}

// Pulse drives the pin high for high, then low for low. periph.io's Out
// call is synchronous but does not itself guarantee sub-microsecond
// accuracy on non-realtime kernels; callers needing tighter timing should
// use a dedicated loop instead (see internal/stepper).
func (p *periphPin) Pulse(high, low time.Duration) error {
	if err := p.pin.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(high)
	if err := p.pin.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(low)
	return nil
}

func toPeriphLevel(l Level) gpio.Level {
	return gpio.Level(l == High)
}

func fromPeriphLevel(l gpio.Level) Level {
	if l {
		return High
	}
	return Low
}

func toPeriphPull(p Pull) gpio.Pull {
	switch p {
	case PullUp:
		return gpio.PullUp
	case PullDown:
		return gpio.PullDown
	default:
		return gpio.PullNoChange
	}
}
