package gpio

import (
	"sync"
	"time"
)

// FakePin is a deterministic in-memory Pin for tests, grounded on the same
// call-recording MockBackend shape used throughout this codebase's test
// doubles. It never sleeps on Pulse, so stepper tests run at full speed.
type FakePin struct {
	mu         sync.Mutex
	dir        Direction
	pull       Pull
	level      Level
	pulses     int
	configured bool
}

// NewFakePin returns a FakePin initialized Low, unconfigured.
func NewFakePin() *FakePin {
	return &FakePin{}
}

func (p *FakePin) Configure(dir Direction, pull Pull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = dir
	p.pull = pull
	p.configured = true
	if dir == DirectionInput && pull == PullUp {
		p.level = High
	}
	return nil
}

func (p *FakePin) Write(level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	return nil
}

func (p *FakePin) Read() (Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *FakePin) Pulse(high, low time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = High
	p.level = Low
	p.pulses++
	return nil
}

// SetLevel directly sets the pin's level, simulating external hardware (a
// limit switch or e-stop button) without going through Write.
func (p *FakePin) SetLevel(l Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = l
}

func (p *FakePin) PulseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulses
}

func (p *FakePin) IsConfigured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configured
}

// FakeBank is a Bank backed entirely by FakePins, keyed by logical name.
type FakeBank struct {
	mu   sync.Mutex
	pins map[string]*FakePin
}

// NewFakeBank returns an empty FakeBank; call Add to register pins before
// use, or rely on Pin to lazily create one on first reference.
func NewFakeBank() *FakeBank {
	return &FakeBank{pins: make(map[string]*FakePin)}
}

// Add registers an explicit FakePin under name, for tests that want to hold
// a reference to drive it (e.g. simulate a limit switch edge).
func (b *FakeBank) Add(name string, pin *FakePin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pins[name] = pin
}

func (b *FakeBank) Pin(name string) (Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pins[name]; ok {
		return p, nil
	}
	p := NewFakePin()
	b.pins[name] = p
	return p, nil
}
