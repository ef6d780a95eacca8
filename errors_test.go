package animacore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shimmerlabs/animacore/internal/safety"
	"github.com/shimmerlabs/animacore/internal/scene"
	"github.com/shimmerlabs/animacore/internal/servo"
	"github.com/shimmerlabs/animacore/internal/stepper"
)

func TestStructuredError(t *testing.T) {
	err := New("servo.set_target", CodeOutOfRange, "target outside channel limits")

	if err.Op != "servo.set_target" {
		t.Errorf("expected Op=servo.set_target, got %s", err.Op)
	}
	if err.Code != CodeOutOfRange {
		t.Errorf("expected Code=CodeOutOfRange, got %s", err.Code)
	}

	expected := "animacore: target outside channel limits (op=servo.set_target)"
	if err.Error() != expected {
		t.Errorf("expected message %q, got %q", expected, err.Error())
	}
}

func TestErrorWithAddress(t *testing.T) {
	err := NewAt("servo.set_target", "d1_ch0", CodeOutOfRange, "target 2001 exceeds max 2000")

	expected := "animacore: target 2001 exceeds max 2000 (op=servo.set_target addr=d1_ch0)"
	if err.Error() != expected {
		t.Errorf("expected message %q, got %q", expected, err.Error())
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := NewAt("scheduler.submit", "d1", CodeTransportDown, "link quarantined")
	wrapped := Wrap("servo.stop_all", inner)

	if wrapped.Code != CodeTransportDown {
		t.Errorf("expected wrapped Code=CodeTransportDown, got %s", wrapped.Code)
	}
	if wrapped.Op != "servo.stop_all" {
		t.Errorf("expected wrapped Op=servo.stop_all, got %s", wrapped.Op)
	}
}

func TestWrapPlainError(t *testing.T) {
	inner := errors.New("read timed out")
	wrapped := Wrap("transport.read", inner)

	if wrapped.Code != CodeTransientIO {
		t.Errorf("expected Code=CodeTransientIO for plain error, got %s", wrapped.Code)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("expected wrapped error to unwrap to the original cause")
	}
}

func TestIsCode(t *testing.T) {
	err := New("stepper.move_to", CodeHomingTimeout, "limit switch never asserted")

	if !IsCode(err, CodeHomingTimeout) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, CodeBusy) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, CodeHomingTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestErrorsIsByCode(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", New("scheduler.submit", CodeBusy, "queue full"))
	if !IsCode(err, CodeBusy) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
}

func TestClassifyWrapTranslatesComponentSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"servo out of range", servo.ErrOutOfRange, CodeOutOfRange},
		{"servo forbidden", servo.ErrForbidden, CodeStateForbidsWrite},
		{"scene busy", scene.ErrSceneBusy, CodeSceneBusy},
		{"scene state forbids", scene.ErrStateForbidsScene, CodeStateForbidsScene},
		{"stepper not homed", stepper.ErrNotHomed, CodeNotHomed},
		{"stepper busy", stepper.ErrBusy, CodeBusy},
		{"stepper homing timeout", stepper.ErrHomingTimeout, CodeHomingTimeout},
		{"safety system emergency", safety.ErrSystemEmergency, CodeStateForbidsWrite},
		{"safety withheld", safety.ErrWithheld, CodeStateForbidsWrite},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyWrap("dispatch.test", c.err)
			if got.Code != c.want {
				t.Errorf("expected Code=%s, got %s", c.want, got.Code)
			}
		})
	}
}

func TestClassifyWrapFallsBackToTransientIO(t *testing.T) {
	err := ClassifyWrap("dispatch.test", errors.New("unrecognized"))
	if err.Code != CodeTransientIO {
		t.Errorf("expected Code=CodeTransientIO for an unrecognized error, got %s", err.Code)
	}
}

func TestClassifyWrapAtSetsAddress(t *testing.T) {
	err := ClassifyWrapAt("dispatch.servo", "d1_ch0", servo.ErrOutOfRange)
	if err.Code != CodeOutOfRange {
		t.Errorf("expected Code=CodeOutOfRange, got %s", err.Code)
	}
	if err.Address != "d1_ch0" {
		t.Errorf("expected Address=d1_ch0, got %s", err.Address)
	}
}
