package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/constants"
	"github.com/shimmerlabs/animacore/internal/interfaces"
	"github.com/shimmerlabs/animacore/internal/model"
)

// Config constructs a Sampler.
type Config struct {
	ADC          ADC
	Calibrations map[model.SensorChannel]model.Calibration
	Interval     time.Duration
	DegradedN    int
	Logger       interfaces.Logger

	// OnAlert is called (off the sampler's goroutine lock) whenever a
	// channel crosses into or out of the degraded state.
	OnAlert func(model.AlertCode, bool)
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = constants.SampleInterval
	}
	if c.DegradedN <= 0 {
		c.DegradedN = constants.ConsecutiveFailuresForDegraded
	}
}

type channelState struct {
	lastGood    float64
	consecFails int
	degraded    bool
}

// Sampler periodically reads all three channels and exposes the latest
// values through Snapshot. Only the goroutine started by Start ever calls
// the ADC; Snapshot is safe to call from any other goroutine.
type Sampler struct {
	cfg    Config
	adc    ADC
	logger interfaces.Logger

	mu    sync.RWMutex
	state map[model.SensorChannel]*channelState
	last  model.SensorSnapshot
}

// New constructs a Sampler; call Start to begin sampling.
func New(cfg Config) *Sampler {
	cfg.setDefaults()
	s := &Sampler{
		cfg:    cfg,
		adc:    cfg.ADC,
		logger: cfg.Logger,
		state:  make(map[model.SensorChannel]*channelState),
	}
	for _, ch := range []model.SensorChannel{model.ChannelVoltage, model.ChannelCurrent1, model.ChannelCurrent2} {
		s.state[ch] = &channelState{}
	}
	return s
}

// Start runs the sampling loop until ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sampler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	voltage := s.sampleChannel(ctx, model.ChannelVoltage)
	c1 := s.sampleChannel(ctx, model.ChannelCurrent1)
	c2 := s.sampleChannel(ctx, model.ChannelCurrent2)

	s.mu.Lock()
	s.last = model.SensorSnapshot{Voltage: voltage, Current1: c1, Current2: c2}
	s.mu.Unlock()
}

func (s *Sampler) sampleChannel(ctx context.Context, ch model.SensorChannel) model.SensorReading {
	st := s.state[ch]
	raw, err := s.adc.ReadRaw(ctx, ch)
	if err != nil {
		st.consecFails++
		if st.consecFails == s.cfg.DegradedN && !st.degraded {
			st.degraded = true
			s.emitAlert(model.AlertSensorDegraded, true)
		}
		if s.logger != nil {
			s.logger.Warn("sensor sample failed", "channel", ch.String(), "error", err.Error(), "consecutive_fails", st.consecFails)
		}
		return model.SensorReading{Value: st.lastGood, Stale: true}
	}

	if st.degraded {
		st.degraded = false
		s.emitAlert(model.AlertSensorDegraded, false)
	}
	st.consecFails = 0

	cal := s.cfg.Calibrations[ch]
	value := cal.Apply(raw)
	st.lastGood = value
	return model.SensorReading{Value: value, Stale: false}
}

func (s *Sampler) emitAlert(code model.AlertCode, active bool) {
	if s.cfg.OnAlert != nil {
		s.cfg.OnAlert(code, active)
	}
}

// Snapshot returns the most recently sampled values.
func (s *Sampler) Snapshot() model.SensorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
