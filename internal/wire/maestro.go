// Package wire marshals servo commands into the Maestro-compatible compact
// protocol the servo controllers speak: one command byte followed by a
// small fixed payload, channel numbers and positions packed as 7-bit bytes.
package wire

import "fmt"

const (
	cmdSetTarget          byte = 0x84
	cmdSetMultipleTargets byte = 0x9F
	cmdSetSpeed           byte = 0x87
	cmdSetAcceleration    byte = 0x89
	cmdGetPosition        byte = 0x90
	cmdRestartScript      byte = 0x27
	cmdStopScript         byte = 0x24
)

// split7 packs a 14-bit value into two 7-bit bytes, low byte first, as the
// compact protocol requires (the high bit of every data byte must be 0).
func split7(v uint16) (lo, hi byte) {
	return byte(v & 0x7F), byte((v >> 7) & 0x7F)
}

// SetTarget encodes a Set Target command. us is the pulse width in
// microseconds (992..2000); the wire format wants quarter-microseconds.
func SetTarget(channel uint8, us uint16) []byte {
	lo, hi := split7(us * 4)
	return []byte{cmdSetTarget, channel, lo, hi}
}

// SetSpeed encodes a Set Speed command (0 = unlimited).
func SetSpeed(channel uint8, speed uint8) []byte {
	lo, hi := split7(uint16(speed))
	return []byte{cmdSetSpeed, channel, lo, hi}
}

// SetAcceleration encodes a Set Acceleration command (0 = unlimited).
func SetAcceleration(channel uint8, accel uint8) []byte {
	lo, hi := split7(uint16(accel))
	return []byte{cmdSetAcceleration, channel, lo, hi}
}

// GetPosition encodes a Get Position request; the reply is 2 bytes,
// quarter-microseconds little-endian.
func GetPosition(channel uint8) []byte {
	return []byte{cmdGetPosition, channel}
}

// DecodePosition converts a 2-byte Get Position reply into microseconds.
func DecodePosition(reply []byte) (uint16, error) {
	if len(reply) != 2 {
		return 0, fmt.Errorf("wire: position reply must be 2 bytes, got %d", len(reply))
	}
	qus := uint16(reply[0]) | uint16(reply[1])<<8
	return qus / 4, nil
}

// RestartScript encodes a Restart Script at Subroutine command.
func RestartScript(subroutine uint8) []byte {
	return []byte{cmdRestartScript, subroutine}
}

// StopScript encodes a Stop Script command.
func StopScript() []byte {
	return []byte{cmdStopScript}
}

// ErrNotMergeable is returned by MergeSetTargets when the given frames
// aren't all single-channel Set Target commands on consecutive, ascending
// channel numbers — the only shape the Set Multiple Targets command can
// express.
var ErrNotMergeable = fmt.Errorf("wire: frames are not a contiguous run of Set Target commands")

// MergeSetTargets combines consecutive single-channel Set Target frames
// (as produced by SetTarget) into one Set Multiple Targets frame, provided
// their channels are strictly ascending and contiguous. frames must be in
// channel order; this is the scheduler's batching Merger for C3.
func MergeSetTargets(frames [][]byte) ([]byte, error) {
	if len(frames) == 0 {
		return nil, ErrNotMergeable
	}

	firstChannel := byte(0)
	payload := make([]byte, 0, 2*len(frames))
	for i, f := range frames {
		if len(f) != 4 || f[0] != cmdSetTarget {
			return nil, ErrNotMergeable
		}
		channel := f[1]
		if i == 0 {
			firstChannel = channel
		} else if channel != firstChannel+byte(i) {
			return nil, ErrNotMergeable
		}
		payload = append(payload, f[2], f[3])
	}

	out := make([]byte, 0, 3+len(payload))
	out = append(out, cmdSetMultipleTargets, byte(len(frames)), firstChannel)
	out = append(out, payload...)
	return out, nil
}
