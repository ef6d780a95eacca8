// Package animacore is the root of the actuator-command coordination core:
// shared-link scheduling, servo and stepper drivers, the safety supervisor,
// scene engine and telemetry aggregator for a multi-actuator animatronic
// robot.
package animacore

import (
	"errors"
	"fmt"

	"github.com/shimmerlabs/animacore/internal/audio"
	"github.com/shimmerlabs/animacore/internal/safety"
	"github.com/shimmerlabs/animacore/internal/scene"
	"github.com/shimmerlabs/animacore/internal/scheduler"
	"github.com/shimmerlabs/animacore/internal/servo"
	"github.com/shimmerlabs/animacore/internal/stepper"
	"github.com/shimmerlabs/animacore/internal/transport"
)

// Code is the high-level error category surfaced to command submitters and
// to the event bus. Kinds, not concrete types: callers switch on Code, not
// on the wrapped error's dynamic type.
type Code string

const (
	CodeOutOfRange        Code = "out_of_range"
	CodeBusy              Code = "busy"
	CodeSceneBusy         Code = "scene_busy"
	CodeStateForbidsScene Code = "state_forbids_scene"
	CodeStateForbidsWrite Code = "state_forbids_write"
	CodeTimeout           Code = "timeout"
	CodeTransientIO       Code = "transient_io"
	CodeTransportFailed   Code = "transport_failed"
	CodeTransportDown     Code = "transport_down"
	CodeHomingTimeout     Code = "homing_timeout"
	CodeLimitUnexpected   Code = "limit_unexpected"
	CodeSensorDegraded    Code = "sensor_degraded"
	CodeConfigInvalid     Code = "config_invalid"
	CodeAudioMissing      Code = "audio_missing"
	CodeNotHomed          Code = "not_homed"
	CodeInvalidParameters Code = "invalid_parameters"
)

// Error is a structured, op-and-address-tagged error. Error wrapping via
// Unwrap/Is lets callers use errors.Is(err, animacore.CodeX) semantics
// through IsCode, while still supporting errors.As for inner causes.
type Error struct {
	Op      string // operation that failed, e.g. "servo.set_target"
	Address string // offending address or identifier, if any ("" if not applicable)
	Code    Code
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("animacore: %s (op=%s addr=%s)", e.msg(), e.Op, e.Address)
	}
	if e.Op != "" {
		return fmt.Sprintf("animacore: %s (op=%s)", e.msg(), e.Op)
	}
	return fmt.Sprintf("animacore: %s", e.msg())
}

func (e *Error) msg() string {
	if e.Msg != "" {
		return e.Msg
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is(err, &Error{Code: CodeX}): it matches any *Error
// target with the same Code and nothing else.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// New constructs a structured error with no address context.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewAt constructs a structured error tagged with the offending address.
func NewAt(op, address string, code Code, msg string) *Error {
	return &Error{Op: op, Address: address, Code: code, Msg: msg}
}

// Wrap attaches op context to an inner error, preserving its Code if it is
// already a structured Error. Anything else is assigned CodeTransientIO,
// the fallback for an error this package doesn't recognize. Dispatch call
// sites should use ClassifyWrap instead, so a recognized component sentinel
// gets its own Code rather than this fallback.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var ae *Error
	if errors.As(inner, &ae) {
		return &Error{Op: op, Address: ae.Address, Code: ae.Code, Msg: ae.Msg, Inner: ae.Inner}
	}
	return &Error{Op: op, Code: CodeTransientIO, Msg: inner.Error(), Inner: inner}
}

// sentinelCodes maps each internal package's sentinel error to the Code a
// command submitter should see for it. Checked via errors.Is, so a sentinel
// wrapped further down the call stack (e.g. fmt.Errorf("...: %w", err))
// still classifies correctly.
var sentinelCodes = map[error]Code{
	servo.ErrOutOfRange:     CodeOutOfRange,
	servo.ErrUnknownChannel: CodeInvalidParameters,
	servo.ErrWrongDevice:    CodeInvalidParameters,
	servo.ErrForbidden:      CodeStateForbidsWrite,

	scene.ErrSceneBusy:         CodeSceneBusy,
	scene.ErrStateForbidsScene: CodeStateForbidsScene,
	scene.ErrNoActiveScene:     CodeInvalidParameters,

	stepper.ErrNotEnabled:      CodeStateForbidsWrite,
	stepper.ErrNotHomed:        CodeNotHomed,
	stepper.ErrOutOfSoftLimits: CodeOutOfRange,
	stepper.ErrBusy:            CodeBusy,
	stepper.ErrHomingTimeout:   CodeHomingTimeout,
	stepper.ErrForbidden:       CodeStateForbidsWrite,
	stepper.ErrNotFaulted:      CodeInvalidParameters,
	stepper.ErrStopped:         CodeTransportDown,

	safety.ErrNotEmergency:    CodeInvalidParameters,
	safety.ErrWithheld:        CodeStateForbidsWrite,
	safety.ErrSystemEmergency: CodeStateForbidsWrite,

	scheduler.ErrQueueFull:       CodeBusy,
	scheduler.ErrStopped:         CodeTransportDown,
	scheduler.ErrTransportFailed: CodeTransportFailed,
	scheduler.ErrTransportDown:   CodeTransportDown,
	scheduler.ErrRequestTimeout:  CodeTimeout,

	transport.ErrFatalIO:     CodeTransportFailed,
	transport.ErrTransientIO: CodeTransientIO,

	audio.ErrAudioMissing: CodeAudioMissing,
}

// classify reports the Code registered for err's sentinel in sentinelCodes,
// if any.
func classify(err error) (Code, bool) {
	for sentinel, code := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return code, true
		}
	}
	return "", false
}

// ClassifyWrap is Wrap with sentinel translation: before falling back to
// Wrap's CodeTransientIO default, it checks inner against every internal
// package's sentinel error and, on a match, returns a structured Error
// carrying that sentinel's real Code. Dispatch uses this at every boundary
// crossing from an internal package, so servo.ErrOutOfRange reaches the
// command submitter as out_of_range and safety.ErrSystemEmergency as
// state_forbids_write, rather than both collapsing into the generic,
// retriable transient_io.
func ClassifyWrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var ae *Error
	if errors.As(inner, &ae) {
		return &Error{Op: op, Address: ae.Address, Code: ae.Code, Msg: ae.Msg, Inner: ae.Inner}
	}
	if code, ok := classify(inner); ok {
		return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
	}
	return Wrap(op, inner)
}

// ClassifyWrapAt is ClassifyWrap plus an offending address, for dispatch
// sites that know which channel or scene the error belongs to.
func ClassifyWrapAt(op, address string, inner error) *Error {
	ae := ClassifyWrap(op, inner)
	if ae != nil && ae.Address == "" {
		ae.Address = address
	}
	return ae
}

// IsCode reports whether err is (or wraps) a structured Error with the given Code.
func IsCode(err error, code Code) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
