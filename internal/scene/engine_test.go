package scene

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shimmerlabs/animacore/internal/model"
)

type fakeServo struct {
	mu        sync.Mutex
	moves     []model.ServoCommand
	subscript *uint8
}

func (f *fakeServo) SetTarget(ctx context.Context, cmd model.ServoCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, cmd)
	return nil
}

func (f *fakeServo) RunSubscript(ctx context.Context, scriptNo uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscript = &scriptNo
	return nil
}

func (f *fakeServo) moveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.moves)
}

type fakeAudio struct {
	mu      sync.Mutex
	played  []string
	stopped int
}

func (f *fakeAudio) Play(ctx context.Context, name string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, name)
	return nil
}

func (f *fakeAudio) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeAudio) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

type fakeState struct {
	mu    sync.Mutex
	state model.SystemState
}

func (f *fakeState) set(s model.SystemState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeState) State() model.SystemState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func newTestEngine() (*Engine, *fakeServo, *fakeAudio, *fakeState) {
	servo := &fakeServo{}
	aud := &fakeAudio{}
	st := &fakeState{state: model.StateNormal}
	e := New(Config{
		Servos: map[model.DeviceID]ServoDriver{model.DeviceD1: servo, model.DeviceD2: servo},
		Audio:  aud,
		State:  st,
	})
	return e, servo, aud, st
}

func testScene(name string, durationS float64) model.Scene {
	addr, _ := model.NewActuatorAddress(model.DeviceD1, 0)
	return model.Scene{
		Name:      name,
		DurationS: durationS,
		ServoMoves: map[model.ActuatorAddress]model.SceneMove{
			addr: {TargetUs: 1500},
		},
	}
}

func TestPlayIssuesServoMovesImmediately(t *testing.T) {
	e, servo, _, _ := newTestEngine()
	s := testScene("wave", 0.05)

	if err := e.Play(context.Background(), s, false); err != nil {
		t.Fatalf("Play: %v", err)
	}
	deadline := time.After(time.Second)
	for servo.moveCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for servo move")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPlayRejectsWhenBusyWithoutReplace(t *testing.T) {
	e, _, _, _ := newTestEngine()
	s := testScene("long", 5)

	if err := e.Play(context.Background(), s, false); err != nil {
		t.Fatalf("first Play: %v", err)
	}
	if err := e.Play(context.Background(), testScene("other", 1), false); !errors.Is(err, ErrSceneBusy) {
		t.Fatalf("expected ErrSceneBusy, got %v", err)
	}
	_ = e.Cancel("test cleanup")
}

func TestPlayReplacesActiveScene(t *testing.T) {
	e, _, aud, _ := newTestEngine()
	s := testScene("long", 5)

	if err := e.Play(context.Background(), s, false); err != nil {
		t.Fatalf("first Play: %v", err)
	}
	if err := e.Play(context.Background(), testScene("other", 5), true); err != nil {
		t.Fatalf("replace Play: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		name, ok := e.Active()
		if ok && name == "other" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out; active=%q ok=%v", name, ok)
		case <-time.After(time.Millisecond):
		}
	}
	_ = aud
	_ = e.Cancel("test cleanup")
}

func TestPlayRejectedOutsideNormalState(t *testing.T) {
	e, _, _, st := newTestEngine()
	st.set(model.StateEmergency)

	if err := e.Play(context.Background(), testScene("wave", 1), false); !errors.Is(err, ErrStateForbidsScene) {
		t.Fatalf("expected ErrStateForbidsScene, got %v", err)
	}
}

func TestSceneCompletesAndEmitsEvent(t *testing.T) {
	e, _, _, _ := newTestEngine()
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	if err := e.Play(context.Background(), testScene("quick", 0.02), false); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != model.SceneCompleted || evt.SceneName != "quick" {
			t.Errorf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SceneCompleted")
	}
}

func TestCancelEmitsSceneCancelledWithReason(t *testing.T) {
	e, _, aud, _ := newTestEngine()
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	if err := e.Play(context.Background(), testScene("long", 5), false); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := e.Cancel("operator stop"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != model.SceneCancelled || evt.Reason != "operator stop" {
			t.Errorf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SceneCancelled")
	}
	if aud.stopped == 0 {
		t.Error("expected audio Stop to be called on cancellation")
	}
}

func TestActiveStepsTrackProgress(t *testing.T) {
	e, _, _, _ := newTestEngine()
	if err := e.Play(context.Background(), testScene("long", 5), false); err != nil {
		t.Fatalf("Play: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		steps, ok := e.ActiveSteps()
		if ok {
			completed := 0
			for _, st := range steps {
				if st.Status == model.StepCompleted {
					completed++
				}
			}
			if completed >= 3 {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for steps to progress, last=%+v", steps)
		case <-time.After(time.Millisecond):
		}
	}
	_ = e.Cancel("test cleanup")
}

func TestCancelWithNoActiveSceneErrors(t *testing.T) {
	e, _, _, _ := newTestEngine()
	if err := e.Cancel("nothing running"); !errors.Is(err, ErrNoActiveScene) {
		t.Fatalf("expected ErrNoActiveScene, got %v", err)
	}
}
