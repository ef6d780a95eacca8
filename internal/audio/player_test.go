package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeClip(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("clip"), 0o644); err != nil {
		t.Fatalf("writing fake clip: %v", err)
	}
}

func TestPlayMissingClipReturnsError(t *testing.T) {
	p := New(Config{ClipsDir: t.TempDir(), Player: "true"})
	err := p.Play(context.Background(), "does_not_exist.wav", 0)
	if !errors.Is(err, ErrAudioMissing) {
		t.Fatalf("expected ErrAudioMissing, got %v", err)
	}
}

func TestPlayStartsAndFinishes(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "roar.wav")
	p := New(Config{ClipsDir: dir, Player: "true"})

	if err := p.Play(context.Background(), "roar.wav", 0); err != nil {
		t.Fatalf("Play: %v", err)
	}

	deadline := time.After(time.Second)
	for p.IsPlaying() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for playback to finish")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPlayReplacesPendingSchedule(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.wav")
	writeClip(t, dir, "b.wav")
	p := New(Config{ClipsDir: dir, Player: "true"})

	if err := p.Play(context.Background(), "a.wav", 200*time.Millisecond); err != nil {
		t.Fatalf("Play a: %v", err)
	}
	if err := p.Play(context.Background(), "b.wav", 0); err != nil {
		t.Fatalf("Play b: %v", err)
	}

	deadline := time.After(time.Second)
	for p.IsPlaying() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for playback to finish")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestStopKillsScheduledPlayback(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.wav")
	p := New(Config{ClipsDir: dir, Player: "true"})

	if err := p.Play(context.Background(), "a.wav", time.Hour); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsPlaying() {
		t.Error("expected IsPlaying to be false after Stop")
	}
}
