// Package audio implements the audio player (C8): at most one named clip
// plays at a time, with an optional scheduled delay and an immediate stop.
//
// No library in the reference corpus covers audio playback, so this
// package shells out to an external player binary (aplay by default, the
// standard ALSA command-line player on the Linux boards this system
// targets) via os/exec rather than linking a decoding library the corpus
// never demonstrates.
package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/shimmerlabs/animacore/internal/interfaces"
)

// Config constructs a Player.
type Config struct {
	ClipsDir string
	Player   string // external player binary; defaults to "aplay"
	Logger   interfaces.Logger
}

// Player plays at most one clip at a time.
type Player struct {
	clipsDir string
	player   string
	logger   interfaces.Logger

	mu    sync.Mutex
	timer *time.Timer
	cmd   *exec.Cmd
}

// New constructs a Player, idle, with no scheduled or active playback.
func New(cfg Config) *Player {
	player := cfg.Player
	if player == "" {
		player = "aplay"
	}
	return &Player{clipsDir: cfg.ClipsDir, player: player, logger: cfg.Logger}
}

// Play schedules name for playback after delay, stopping any clip already
// playing or scheduled (at most one clip plays at a time). A missing clip
// is reported as ErrAudioMissing without scheduling anything.
func (p *Player) Play(ctx context.Context, name string, delay time.Duration) error {
	path := filepath.Join(p.clipsDir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrAudioMissing, name)
	}

	p.mu.Lock()
	p.stopLocked()
	p.timer = time.AfterFunc(delay, func() { p.start(ctx, path) })
	p.mu.Unlock()
	return nil
}

// Stop halts any scheduled or in-progress playback immediately.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.cmd = nil
}

func (p *Player) start(ctx context.Context, path string) {
	cmd := exec.CommandContext(ctx, p.player, path)

	p.mu.Lock()
	p.timer = nil
	p.cmd = cmd
	p.mu.Unlock()

	if err := cmd.Start(); err != nil {
		if p.logger != nil {
			p.logger.Error("audio playback failed to start", "path", path, "error", err.Error())
		}
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
		}
		p.mu.Unlock()
		return
	}

	err := cmd.Wait()
	p.mu.Lock()
	if p.cmd == cmd {
		p.cmd = nil
	}
	p.mu.Unlock()
	if err != nil && p.logger != nil {
		p.logger.Warn("audio playback exited with error", "path", path, "error", err.Error())
	}
}

// IsPlaying reports whether a clip is currently playing or about to.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil || p.timer != nil
}
