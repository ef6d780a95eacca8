package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shimmerlabs/animacore/internal/model"
)

func TestSamplerAppliesCalibration(t *testing.T) {
	adc := NewFakeADC()
	adc.SetRaw(model.ChannelVoltage, 1000)

	s := New(Config{
		ADC:      adc,
		Interval: time.Millisecond,
		Calibrations: map[model.SensorChannel]model.Calibration{
			model.ChannelVoltage: {A: 0.01, B: 0.5},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitForSnapshot(t, s, func(snap model.SensorSnapshot) bool { return snap.Voltage.Value != 0 })

	snap := s.Snapshot()
	if snap.Voltage.Value != 10.5 {
		t.Errorf("expected calibrated voltage 10.5, got %v", snap.Voltage.Value)
	}
	if snap.Voltage.Stale {
		t.Error("expected a fresh reading, got stale")
	}
}

func TestSamplerHoldsLastGoodOnFailure(t *testing.T) {
	adc := NewFakeADC()
	adc.SetRaw(model.ChannelCurrent1, 2000)

	s := New(Config{
		ADC:      adc,
		Interval: time.Millisecond,
		Calibrations: map[model.SensorChannel]model.Calibration{
			model.ChannelCurrent1: {A: 1, B: 0},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitForSnapshot(t, s, func(snap model.SensorSnapshot) bool { return snap.Current1.Value == 2000 })

	adc.FailNext(model.ChannelCurrent1, 100, errors.New("bus timeout"))
	waitForSnapshot(t, s, func(snap model.SensorSnapshot) bool { return snap.Current1.Stale })

	snap := s.Snapshot()
	if snap.Current1.Value != 2000 {
		t.Errorf("expected held-over value 2000, got %v", snap.Current1.Value)
	}
}

func TestSamplerRaisesDegradedAfterThreshold(t *testing.T) {
	adc := NewFakeADC()
	adc.FailNext(model.ChannelCurrent2, 100, errors.New("bus timeout"))

	var mu sync.Mutex
	var alerts []bool
	s := New(Config{
		ADC:       adc,
		Interval:  time.Millisecond,
		DegradedN: 3,
		OnAlert: func(code model.AlertCode, active bool) {
			mu.Lock()
			defer mu.Unlock()
			alerts = append(alerts, active)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(alerts)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for degraded alert")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !alerts[0] {
		t.Errorf("expected first alert to be active=true, got %v", alerts[0])
	}
}

func waitForSnapshot(t *testing.T, s *Sampler, ok func(model.SensorSnapshot) bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if ok(s.Snapshot()) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for expected snapshot condition")
		case <-time.After(time.Millisecond):
		}
	}
}
