package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/shimmerlabs/animacore/internal/model"
)

type fakeServoSource struct {
	positions map[model.ActuatorAddress]uint16
}

func (f fakeServoSource) Positions() map[model.ActuatorAddress]uint16 { return f.positions }

type fakeStepperSource struct {
	state model.StepperState
}

func (f fakeStepperSource) Snapshot() model.StepperState { return f.state }

type fakeSensorSource struct {
	snap model.SensorSnapshot
}

func (f fakeSensorSource) Snapshot() model.SensorSnapshot { return f.snap }

type fakeStateSource struct {
	state model.SystemState
}

func (f fakeStateSource) State() model.SystemState { return f.state }

type fakeLinkSource struct {
	quarantined bool
}

func (f fakeLinkSource) Quarantined() bool { return f.quarantined }

func TestComposeMergesAllSources(t *testing.T) {
	addr, _ := model.NewActuatorAddress(model.DeviceD1, 0)
	a := New(Config{
		Servos: map[model.DeviceID]ServoSource{
			model.DeviceD1: fakeServoSource{positions: map[model.ActuatorAddress]uint16{addr: 1500}},
		},
		Stepper: fakeStepperSource{state: model.StepperState{Mode: model.StepperIdle, Homed: true}},
		Sensors: fakeSensorSource{snap: model.SensorSnapshot{
			Voltage:  model.SensorReading{Value: 12.1},
			Current1: model.SensorReading{Value: 0.4},
			Current2: model.SensorReading{Value: 0.2},
		}},
		State: fakeStateSource{state: model.StateNormal},
	})

	snap := a.Compose()
	if snap.VoltageV != 12.1 || snap.CurrentACh1 != 0.4 || snap.CurrentACh2 != 0.2 {
		t.Errorf("unexpected sensor values: %+v", snap)
	}
	if snap.State != model.StateNormal {
		t.Errorf("expected StateNormal, got %v", snap.State)
	}
	if !snap.Stepper.Homed {
		t.Errorf("expected stepper snapshot to carry through")
	}
	if us, ok := snap.ServoPositions[addr]; !ok || us != 1500 {
		t.Errorf("expected servo position carried through, got %v", snap.ServoPositions)
	}
	if snap.TMs == 0 {
		t.Errorf("expected a non-zero timestamp")
	}
}

func TestComposeReportsNoAlertsWhenClear(t *testing.T) {
	a := New(Config{})
	snap := a.Compose()
	if len(snap.Alerts) != 0 {
		t.Errorf("expected no alerts, got %v", snap.Alerts)
	}
}

func TestRaiseAlertAppearsAndClears(t *testing.T) {
	a := New(Config{})
	a.OnSensorAlert(model.AlertSensorDegraded, true)

	snap := a.Compose()
	if len(snap.Alerts) != 1 || snap.Alerts[0] != model.AlertSensorDegraded {
		t.Fatalf("expected AlertSensorDegraded active, got %v", snap.Alerts)
	}

	a.OnSensorAlert(model.AlertSensorDegraded, false)
	snap = a.Compose()
	if len(snap.Alerts) != 0 {
		t.Errorf("expected alert cleared, got %v", snap.Alerts)
	}
}

func TestStepperOneShotAlertLatchesUntilCleared(t *testing.T) {
	a := New(Config{})
	a.OnStepperAlert(model.AlertLimitUnexpected)

	snap := a.Compose()
	if len(snap.Alerts) != 1 || snap.Alerts[0] != model.AlertLimitUnexpected {
		t.Fatalf("expected AlertLimitUnexpected active, got %v", snap.Alerts)
	}
}

func TestQuarantinedLinkRaisesTransportDownEachCompose(t *testing.T) {
	link := &fakeLinkSource{quarantined: true}
	a := New(Config{Links: []LinkSource{link}})

	snap := a.Compose()
	if len(snap.Alerts) != 1 || snap.Alerts[0] != model.AlertTransportDown {
		t.Fatalf("expected AlertTransportDown, got %v", snap.Alerts)
	}

	link.quarantined = false
	snap = a.Compose()
	if len(snap.Alerts) != 0 {
		t.Errorf("expected alert cleared once link recovers, got %v", snap.Alerts)
	}
}

func TestSubscribeReceivesPublishedSnapshots(t *testing.T) {
	a := New(Config{Interval: 5 * time.Millisecond})
	ch, unsubscribe := a.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	defer func() {
		cancel()
		a.Stop()
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published snapshot")
	}
}
