// Package transport owns the serial link to the servo controllers: opening
// the port, classifying I/O errors as transient or fatal, and exposing the
// minimal read/write contract the scheduler drives.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTransientIO marks a retriable failure: a read timeout or a short read.
// The link itself is assumed healthy.
var ErrTransientIO = errors.New("transport: transient I/O error")

// ErrFatalIO marks a failure the scheduler cannot retry past: the device
// disappeared, or access was denied. The caller should quarantine the link.
var ErrFatalIO = errors.New("transport: fatal I/O error")

// Transport is the byte-oriented link contract C2 drives. A Transport is not
// safe for concurrent use; the scheduler is its only caller and serializes
// access to it itself.
type Transport interface {
	// Write sends p in full or returns an error classified as transient or
	// fatal via errors.Is(err, ErrTransientIO) / errors.Is(err, ErrFatalIO).
	Write(ctx context.Context, p []byte) error

	// ReadExact reads exactly len(p) bytes into p, or returns a transient
	// error on timeout/short read.
	ReadExact(ctx context.Context, p []byte) error

	// Drain discards any bytes currently buffered for read, resynchronizing
	// after a protocol error.
	Drain() error

	// Close releases the underlying handle. Safe to call once.
	Close() error
}

// Config describes how to open the physical link.
type Config struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// reader is the minimal surface transport needs from an opened port; it is
// satisfied by *serial.Port (github.com/tarm/serial) and by fakePort in
// tests, so no other file in this package depends on the serial library
// directly.
type reader interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// SerialTransport is the production Transport backed by a real serial port.
type SerialTransport struct {
	mu   sync.Mutex
	port reader
	cfg  Config
}

// Open configures and opens the serial port at cfg.Port/BaudRate with 8N1
// framing. Callers that need a fake link for testing should construct a
// SerialTransport directly around a reader test double instead (see
// transport_test.go), bypassing Open entirely.
func Open(cfg Config) (*SerialTransport, error) {
	port, err := openPort(cfg)
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	return &SerialTransport{port: port, cfg: cfg}, nil
}

func (t *SerialTransport) Write(ctx context.Context, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransientIO, err)
	}

	n, err := t.port.Write(p)
	if err != nil {
		return classifyIOErr(err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrTransientIO, n, len(p))
	}
	return nil
}

func (t *SerialTransport) ReadExact(ctx context.Context, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for total < len(p) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTransientIO, err)
		}
		n, err := t.port.Read(p[total:])
		total += n
		if err != nil {
			return classifyIOErr(err)
		}
		if n == 0 {
			return fmt.Errorf("%w: zero-byte read", ErrTransientIO)
		}
	}
	return nil
}

// Drain reads and discards whatever is currently available without
// blocking for more; it reuses the configured read timeout as its bound.
func (t *SerialTransport) Drain() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n == 0 || err != nil {
			return nil
		}
	}
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Close()
}
