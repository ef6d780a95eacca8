package transport

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"
)

func openPort(cfg Config) (reader, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 9600
	}
	timeout := cfg.ReadTimeout
	if timeout == 0 {
		timeout = 50 * time.Millisecond
	}
	return serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        baud,
		ReadTimeout: timeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
}

// classifyOpenErr distinguishes a missing or permission-denied port (fatal,
// the operator must fix the hardware or udev rule) from anything else
// opening might fail with, which we still treat as fatal: a port that won't
// open at all is not something retrying helps with.
func classifyOpenErr(err error) error {
	return fmt.Errorf("%w: open port: %v", ErrFatalIO, err)
}

// classifyIOErr maps a syscall-level error from an already-open port into
// the transient/fatal taxonomy the scheduler retries on.
func classifyIOErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransientIO, err)
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
			return fmt.Errorf("%w: %v", ErrTransientIO, err)
		case unix.ENODEV, unix.ENXIO, unix.EACCES, unix.EBADF, unix.EIO:
			return fmt.Errorf("%w: %v", ErrFatalIO, err)
		}
	}

	// Unknown cause from an open port: assume transient so a one-off glitch
	// doesn't quarantine a healthy link; repeated transient failures still
	// escalate through the scheduler's retry-exhaustion path.
	return fmt.Errorf("%w: %v", ErrTransientIO, err)
}
