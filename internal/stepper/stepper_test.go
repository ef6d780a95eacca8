package stepper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/model"
)

func testConfig() model.StepperConfig {
	return model.StepperConfig{
		StepsPerRev:  200,
		LeadPitchMm:  8,
		MaxTravelCm:  20,
		HomingSps:    2000,
		NormalSps:    4000,
		MaxSps:       5000,
		AccelSps2:    200000,
		StepPin:      "step",
		DirPin:       "dir",
		EnablePin:    "enable",
		LimitPin:     "limit",
		MaxHomeSteps: 50,
	}
}

func newTestController(t *testing.T, gate Gate) (*Controller, *gpio.FakeBank) {
	t.Helper()
	bank := gpio.NewFakeBank()
	c, err := New(Config{
		Axis:    model.DeviceD1,
		Bank:    bank,
		Gate:    gate,
		Stepper: testConfig(),
		SoftMin: -1000,
		SoftMax: 1000,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.StopLoop()
	})
	return c, bank
}

func awaitMode(t *testing.T, c *Controller, mode model.StepperMode, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if c.Snapshot().Mode == mode {
			return
		}
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("timed out waiting for mode %v, last snapshot %+v", mode, c.Snapshot())
		}
	}
}

func TestHomeZeroesPositionOnLimitEdge(t *testing.T) {
	c, bank := newTestController(t, nil)
	if err := c.SetEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	limit, _ := bank.Pin("limit")
	fakeLimit := limit.(*gpio.FakePin)
	go func() {
		time.Sleep(5 * time.Millisecond)
		fakeLimit.SetLevel(gpio.Low)
	}()

	if err := c.Home(context.Background()); err != nil {
		t.Fatalf("Home: %v", err)
	}
	st := c.Snapshot()
	if !st.Homed || st.PositionSteps != 0 || st.Mode != model.StepperIdle {
		t.Errorf("unexpected post-home state: %+v", st)
	}
}

func TestHomeTimesOutWithoutLimitEdge(t *testing.T) {
	c, _ := newTestController(t, nil)
	_ = c.SetEnabled(context.Background(), true)

	err := c.Home(context.Background())
	if !errors.Is(err, ErrHomingTimeout) {
		t.Fatalf("expected ErrHomingTimeout, got %v", err)
	}
	if c.Snapshot().Mode != model.StepperFaulted {
		t.Errorf("expected Faulted after homing timeout, got %v", c.Snapshot().Mode)
	}
}

func homeController(t *testing.T, c *Controller, bank *gpio.FakeBank) {
	t.Helper()
	_ = c.SetEnabled(context.Background(), true)
	limit, _ := bank.Pin("limit")
	fakeLimit := limit.(*gpio.FakePin)
	go func() {
		time.Sleep(5 * time.Millisecond)
		fakeLimit.SetLevel(gpio.Low)
	}()
	if err := c.Home(context.Background()); err != nil {
		t.Fatalf("Home: %v", err)
	}
	fakeLimit.SetLevel(gpio.High)
}

func TestMoveToRejectsUnhomed(t *testing.T) {
	c, _ := newTestController(t, nil)
	_ = c.SetEnabled(context.Background(), true)

	if err := c.MoveTo(context.Background(), 100); !errors.Is(err, ErrNotHomed) {
		t.Fatalf("expected ErrNotHomed, got %v", err)
	}
}

func TestMoveToRejectsOutOfSoftLimits(t *testing.T) {
	c, bank := newTestController(t, nil)
	homeController(t, c, bank)

	if err := c.MoveTo(context.Background(), 5000); !errors.Is(err, ErrOutOfSoftLimits) {
		t.Fatalf("expected ErrOutOfSoftLimits, got %v", err)
	}
}

func TestMoveToReachesTarget(t *testing.T) {
	c, bank := newTestController(t, nil)
	homeController(t, c, bank)

	if err := c.MoveTo(context.Background(), 20); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	awaitMode(t, c, model.StepperIdle, 2*time.Second)
	if pos := c.Snapshot().PositionSteps; pos != 20 {
		t.Errorf("expected position 20, got %d", pos)
	}
}

func TestMoveToOpposingDirectionRejectedWithDefaultPolicy(t *testing.T) {
	c, bank := newTestController(t, nil)
	homeController(t, c, bank)

	if err := c.MoveTo(context.Background(), 500); err != nil {
		t.Fatalf("first MoveTo: %v", err)
	}
	if err := c.MoveTo(context.Background(), -500); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for an opposing-direction move, got %v", err)
	}
}

type denyGate struct{}

func (denyGate) Authorize(model.DeviceID) error { return errors.New("state forbids motion") }

func TestGateDenialBlocksHomeAndMove(t *testing.T) {
	c, _ := newTestController(t, denyGate{})
	if err := c.Home(context.Background()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden from Home, got %v", err)
	}
	if err := c.MoveTo(context.Background(), 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden from MoveTo, got %v", err)
	}
}

func TestForceDisableBypassesGateDenial(t *testing.T) {
	c, bank := newTestController(t, denyGate{})
	if err := c.ForceDisable(context.Background()); err != nil {
		t.Fatalf("ForceDisable should bypass the gate, got error: %v", err)
	}
	pin, err := bank.Pin("enable")
	if err != nil {
		t.Fatal(err)
	}
	lvl, err := pin.Read()
	if err != nil {
		t.Fatal(err)
	}
	if lvl != gpio.Low {
		t.Errorf("expected enable pin low after ForceDisable, got %v", lvl)
	}
}

func TestStopTransitionsToFaulted(t *testing.T) {
	c, bank := newTestController(t, nil)
	homeController(t, c, bank)

	if err := c.MoveTo(context.Background(), 500); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Snapshot().Mode != model.StepperFaulted {
		t.Errorf("expected Faulted after Stop, got %v", c.Snapshot().Mode)
	}
}

func TestClearFaultRequiresHomed(t *testing.T) {
	c, _ := newTestController(t, nil)
	_ = c.SetEnabled(context.Background(), true)
	_ = c.Stop(context.Background())

	if err := c.ClearFault(context.Background()); !errors.Is(err, ErrNotHomed) {
		t.Fatalf("expected ErrNotHomed, got %v", err)
	}
}

func TestClearFaultReturnsToIdleWhenHomed(t *testing.T) {
	c, bank := newTestController(t, nil)
	homeController(t, c, bank)

	_ = c.Stop(context.Background())
	if err := c.ClearFault(context.Background()); err != nil {
		t.Fatalf("ClearFault: %v", err)
	}
	if c.Snapshot().Mode != model.StepperIdle {
		t.Errorf("expected Idle after ClearFault, got %v", c.Snapshot().Mode)
	}
}

func TestUnexpectedLimitTripDuringMotionFaults(t *testing.T) {
	bank := gpio.NewFakeBank()
	var alerts []model.AlertCode
	var mu sync.Mutex
	c, err := New(Config{
		Axis:    model.DeviceD1,
		Bank:    bank,
		Stepper: testConfig(),
		SoftMin: -1000,
		SoftMax: 1000,
		OnAlert: func(code model.AlertCode) {
			mu.Lock()
			alerts = append(alerts, code)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		cancel()
		c.StopLoop()
	})
	homeController(t, c, bank)

	if err := c.MoveTo(context.Background(), 900); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	time.Sleep(time.Millisecond)
	limit, _ := bank.Pin("limit")
	limit.(*gpio.FakePin).SetLevel(gpio.Low)

	awaitMode(t, c, model.StepperFaulted, time.Second)

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, a := range alerts {
		if a == model.AlertLimitUnexpected {
			found = true
		}
	}
	if !found {
		t.Errorf("expected AlertLimitUnexpected, got %v", alerts)
	}
}

func TestDisableMidMotionHaltsToIdle(t *testing.T) {
	c, bank := newTestController(t, nil)
	homeController(t, c, bank)

	if err := c.MoveTo(context.Background(), 900); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := c.SetEnabled(context.Background(), false); err != nil {
		t.Fatalf("SetEnabled(false): %v", err)
	}
	awaitMode(t, c, model.StepperIdle, time.Second)
	if c.Snapshot().Enabled {
		t.Error("expected Enabled=false after disabling")
	}
}
