package animacore

import (
	"context"
	"io"
	"sync"

	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/sensor"
	"github.com/shimmerlabs/animacore/internal/transport"
)

// MockSerial is a deterministic, in-memory transport.Transport for
// constructing a full System in tests without a real serial port. Queue
// canned replies with QueueReply before the code under test calls
// ReadExact; writes are recorded for assertion via Writes.
type MockSerial struct {
	mu sync.Mutex

	writes  [][]byte
	replies [][]byte

	writeErr error
	readErr  error
	closed   bool

	writeCalls int
	readCalls  int
	drainCalls int
}

// NewMockSerial returns a MockSerial with no queued replies.
func NewMockSerial() *MockSerial {
	return &MockSerial{}
}

// QueueReply appends a canned reply payload, consumed in FIFO order by
// successive ReadExact calls.
func (m *MockSerial) QueueReply(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, append([]byte(nil), p...))
}

// SetWriteErr makes every subsequent Write return err.
func (m *MockSerial) SetWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetReadErr makes every subsequent ReadExact return err once the queued
// replies are exhausted.
func (m *MockSerial) SetReadErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockSerial) Write(ctx context.Context, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.closed {
		return transport.ErrFatalIO
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	return nil
}

func (m *MockSerial) ReadExact(ctx context.Context, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if m.closed {
		return transport.ErrFatalIO
	}
	if len(m.replies) == 0 {
		if m.readErr != nil {
			return m.readErr
		}
		return io.EOF
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	if len(reply) != len(p) {
		return transport.ErrTransientIO
	}
	copy(p, reply)
	return nil
}

func (m *MockSerial) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainCalls++
	m.replies = nil
	return nil
}

func (m *MockSerial) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Writes returns every payload written so far, for assertion.
func (m *MockSerial) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

// CallCounts reports how many times each method has been invoked.
func (m *MockSerial) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"write": m.writeCalls,
		"read":  m.readCalls,
		"drain": m.drainCalls,
	}
}

var _ transport.Transport = (*MockSerial)(nil)

// NewMockGPIOBank returns a deterministic in-memory GPIO bank for
// constructing a stepper Controller in tests without real hardware. It
// re-exports internal/gpio.FakeBank through the public gpio.Bank interface,
// since internal packages cannot be imported outside this module; pins are
// created lazily by name on first reference via Bank.Pin.
func NewMockGPIOBank() gpio.Bank {
	return gpio.NewFakeBank()
}

// FakeGPIOPin is the extra test-only surface a pin returned by
// NewMockGPIOBank satisfies, for simulating external hardware edges (a
// limit switch or e-stop button) without going through Write. Assert a
// gpio.Pin obtained from the bank to this interface:
//
//	pin, _ := bank.Pin("limit")
//	pin.(animacore.FakeGPIOPin).SetLevel(gpio.Low)
type FakeGPIOPin interface {
	SetLevel(gpio.Level)
	PulseCount() int
	IsConfigured() bool
}

// NewMockADC returns a deterministic in-memory ADC for constructing a
// Sampler in tests without a real I2C bus.
func NewMockADC() sensor.ADC {
	return sensor.NewFakeADC()
}
