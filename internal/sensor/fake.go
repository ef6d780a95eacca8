package sensor

import (
	"context"
	"sync"

	"github.com/shimmerlabs/animacore/internal/model"
)

// FakeADC is a deterministic in-memory ADC for tests: set per-channel raw
// values and optionally inject an error for the next N reads of a channel.
type FakeADC struct {
	mu       sync.Mutex
	raw      map[model.SensorChannel]uint16
	failNext map[model.SensorChannel]int
	err      error
}

// NewFakeADC returns a FakeADC with all channels reading zero.
func NewFakeADC() *FakeADC {
	return &FakeADC{
		raw:      make(map[model.SensorChannel]uint16),
		failNext: make(map[model.SensorChannel]int),
	}
}

// SetRaw sets the raw count FakeADC returns for ch until changed again.
func (f *FakeADC) SetRaw(ch model.SensorChannel, raw uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[ch] = raw
}

// FailNext makes the next n reads of ch return err instead of a value.
func (f *FakeADC) FailNext(ch model.SensorChannel, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[ch] = n
	f.err = err
}

func (f *FakeADC) ReadRaw(ctx context.Context, ch model.SensorChannel) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failNext[ch]; n > 0 {
		f.failNext[ch] = n - 1
		return 0, f.err
	}
	return f.raw[ch], nil
}
