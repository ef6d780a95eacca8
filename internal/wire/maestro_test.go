package wire

import (
	"errors"
	"testing"
)

func TestSetTargetEncodesQuarterMicroseconds(t *testing.T) {
	frame := SetTarget(4, 1500)
	if len(frame) != 4 {
		t.Fatalf("expected 4-byte frame, got %d", len(frame))
	}
	if frame[0] != cmdSetTarget || frame[1] != 4 {
		t.Fatalf("unexpected header: %v", frame)
	}
	qus := uint16(frame[2]) | uint16(frame[3])<<7
	if qus != 1500*4 {
		t.Errorf("expected 6000 quarter-microseconds, got %d", qus)
	}
}

func TestDecodePositionRoundTrips(t *testing.T) {
	reply := []byte{byte(6000 & 0xFF), byte(6000 >> 8)}
	us, err := DecodePosition(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if us != 1500 {
		t.Errorf("expected 1500us, got %d", us)
	}
}

func TestDecodePositionRejectsWrongLength(t *testing.T) {
	if _, err := DecodePosition([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for malformed reply")
	}
}

func TestMergeSetTargetsContiguousChannels(t *testing.T) {
	frames := [][]byte{
		SetTarget(2, 1000),
		SetTarget(3, 1500),
		SetTarget(4, 2000),
	}
	merged, err := MergeSetTargets(frames)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged[0] != cmdSetMultipleTargets || merged[1] != 3 || merged[2] != 2 {
		t.Fatalf("unexpected header: %v", merged)
	}
	if len(merged) != 3+2*3 {
		t.Fatalf("unexpected merged length: %d", len(merged))
	}
}

func TestMergeSetTargetsRejectsNonContiguous(t *testing.T) {
	frames := [][]byte{
		SetTarget(2, 1000),
		SetTarget(5, 1500),
	}
	if _, err := MergeSetTargets(frames); !errors.Is(err, ErrNotMergeable) {
		t.Fatalf("expected ErrNotMergeable, got %v", err)
	}
}

func TestMergeSetTargetsRejectsNonSetTargetFrame(t *testing.T) {
	frames := [][]byte{
		SetTarget(2, 1000),
		SetSpeed(3, 50),
	}
	if _, err := MergeSetTargets(frames); !errors.Is(err, ErrNotMergeable) {
		t.Fatalf("expected ErrNotMergeable, got %v", err)
	}
}
