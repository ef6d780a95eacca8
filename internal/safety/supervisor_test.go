package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/model"
)

type recordingStopAller struct {
	mu      sync.Mutex
	stopped int
}

func (r *recordingStopAller) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
	return nil
}

func (r *recordingStopAller) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

type recordingAxisStopper struct {
	mu      sync.Mutex
	stopped int
}

func (r *recordingAxisStopper) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
	return nil
}

type recordingAxisDisabler struct {
	mu       sync.Mutex
	disabled int
}

func (r *recordingAxisDisabler) ForceDisable(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled++
	return nil
}

func (r *recordingAxisDisabler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled
}

type fakeSensors struct {
	mu   sync.Mutex
	snap model.SensorSnapshot
}

func (f *fakeSensors) set(snap model.SensorSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
}

func (f *fakeSensors) Snapshot() model.SensorSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func TestAuthorizeAllowsInNormal(t *testing.T) {
	s := New(Config{})
	if err := s.Authorize(model.DeviceD1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestEmergencyStopsServosAndSteppers(t *testing.T) {
	servo := &recordingStopAller{}
	axis := &recordingAxisStopper{}
	canceled := false
	s := New(Config{
		Servos:            []StopAller{servo},
		Steppers:          []AxisStopper{axis},
		CancelActiveScene: func(reason string) { canceled = true },
	})

	if err := s.RequestEmergencyStop(context.Background(), "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != model.StateEmergency {
		t.Fatalf("expected Emergency, got %v", s.State())
	}
	if servo.count() != 1 {
		t.Errorf("expected StopAll called once, got %d", servo.count())
	}
	if axis.stopped != 1 {
		t.Errorf("expected axis Stop called once, got %d", axis.stopped)
	}
	if !canceled {
		t.Error("expected CancelActiveScene to be invoked")
	}

	if err := s.Authorize(model.DeviceD1); !errors.Is(err, ErrSystemEmergency) {
		t.Fatalf("expected ErrSystemEmergency, got %v", err)
	}
}

func TestClearEmergencyRequiresEmergencyState(t *testing.T) {
	s := New(Config{})
	if err := s.ClearEmergency(context.Background()); !errors.Is(err, ErrNotEmergency) {
		t.Fatalf("expected ErrNotEmergency, got %v", err)
	}
}

func TestClearEmergencyReturnsToNormal(t *testing.T) {
	s := New(Config{})
	_ = s.RequestEmergencyStop(context.Background(), "test")
	if err := s.ClearEmergency(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != model.StateNormal {
		t.Errorf("expected Normal after clear, got %v", s.State())
	}
}

func TestEstopPinTriggersEmergencyAfterDebounce(t *testing.T) {
	pin := gpio.NewFakePin()
	s := New(Config{
		EstopPin:         pin,
		WatchdogInterval: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(s.Stop)

	pin.SetLevel(gpio.Low)

	deadline := time.After(time.Second)
	for s.State() != model.StateEmergency {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for emergency transition")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFailsafeEscalatesAndRecovers(t *testing.T) {
	sensors := &fakeSensors{snap: model.SensorSnapshot{Voltage: model.SensorReading{Value: 12.0}}}
	s := New(Config{
		Sensors:          sensors,
		VLow:             10.0,
		VRecoverMargin:   0.5,
		TDwell:           2 * time.Millisecond,
		TRecover:         2 * time.Millisecond,
		WatchdogInterval: time.Millisecond,
		WithheldInFailsafe: []model.DeviceID{
			model.DeviceD2,
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	t.Cleanup(s.Stop)

	sensors.set(model.SensorSnapshot{Voltage: model.SensorReading{Value: 9.0}})

	deadline := time.After(time.Second)
	for s.State() != model.StateFailsafe {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for failsafe transition")
		case <-time.After(time.Millisecond):
		}
	}

	if err := s.Authorize(model.DeviceD2); !errors.Is(err, ErrWithheld) {
		t.Fatalf("expected ErrWithheld for withheld device, got %v", err)
	}
	if err := s.Authorize(model.DeviceD1); err != nil {
		t.Errorf("expected D1 to remain authorized in failsafe, got %v", err)
	}

	sensors.set(model.SensorSnapshot{Voltage: model.SensorReading{Value: 12.0}})
	deadline = time.After(time.Second)
	for s.State() != model.StateNormal {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for recovery to normal")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestForceFailsafeDisablesConfiguredAxes(t *testing.T) {
	axis := &recordingAxisDisabler{}
	s := New(Config{
		FailsafeAxes: []AxisDisabler{axis},
	})
	s.ForceFailsafe()

	if s.State() != model.StateFailsafe {
		t.Fatalf("expected state Failsafe, got %v", s.State())
	}
	if axis.count() != 1 {
		t.Errorf("expected the configured axis to be force-disabled once, got %d", axis.count())
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	s := New(Config{})
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_ = s.RequestEmergencyStop(context.Background(), "test")

	select {
	case state := <-ch:
		if state != model.StateEmergency {
			t.Errorf("expected Emergency notification, got %v", state)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber notification")
	}
}
