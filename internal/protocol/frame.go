// Package protocol implements the GW1000/GW1100 binary LAN API: command
// framing, live-data decoding, and sensor-ID records.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Commands of the LAN API used by the engine.
const (
	CmdBroadcast       = 0x12 // discovery over UDP broadcast
	CmdLiveData        = 0x27 // read current sensor values
	CmdReadSSSS        = 0x30 // read system parameters
	CmdReadSensorIDNew = 0x3C // read sensor registrations, new form
	CmdWriteReboot     = 0x40 // reboot the gateway
	CmdReadFirmware    = 0x50 // read firmware version string
	CmdReadCustomized  = 0x2A // read customised-server settings
	CmdWriteCustomized = 0x2B // write customised-server settings
	CmdReadUsrPath     = 0x51 // read customised path
	CmdWriteUsrPath    = 0x52 // write customised path
)

var (
	ErrInvalidChecksum = errors.New("protocol: invalid checksum")
	ErrInvalidResponse = errors.New("protocol: invalid response")
	ErrUnknownCommand  = errors.New("protocol: unknown command")
	ErrShortFrame      = errors.New("protocol: frame too short")
)

// wideLength reports whether the command carries a 2-byte big-endian length
// field.  Live data and the new sensor-ID read can exceed 255 bytes; every
// other frame uses a single length byte.
func wideLength(cmd byte) bool {
	return cmd == CmdLiveData || cmd == CmdReadSensorIDNew
}

// checksum is the trailing byte: the sum of CMD, LEN, and PAYLOAD mod 256.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Frame builds a wire frame for cmd with the given payload:
//
//	FF FF CMD LEN PAYLOAD... CSUM
//
// LEN counts CMD+LEN+PAYLOAD+CSUM and is 2 bytes big-endian for the
// live-data and sensor-ID commands, 1 byte otherwise.
func Frame(cmd byte, payload []byte) []byte {
	lenWidth := 1
	if wideLength(cmd) {
		lenWidth = 2
	}
	size := 1 + lenWidth + len(payload) + 1 // CMD + LEN + PAYLOAD + CSUM

	body := make([]byte, 0, size+1)
	body = append(body, cmd)
	if lenWidth == 2 {
		body = binary.BigEndian.AppendUint16(body, uint16(size))
	} else {
		body = append(body, byte(size))
	}
	body = append(body, payload...)
	body = append(body, checksum(body))

	return append([]byte{0xFF, 0xFF}, body...)
}

// Unframe validates a received frame against the expected command and
// returns its payload.  Header, command code, length, and checksum are all
// checked; a mismatched command in an otherwise valid frame is surfaced as
// ErrInvalidResponse so that callers can retry.
func Unframe(wantCmd byte, frame []byte) ([]byte, error) {
	lenWidth := 1
	if wideLength(wantCmd) {
		lenWidth = 2
	}
	if len(frame) < 2+1+lenWidth+1 {
		return nil, ErrShortFrame
	}
	if frame[0] != 0xFF || frame[1] != 0xFF {
		return nil, fmt.Errorf("%w: bad header % X", ErrInvalidResponse, frame[:2])
	}
	cmd := frame[2]
	if cmd != wantCmd {
		return nil, fmt.Errorf("%w: command 0x%02X, expected 0x%02X", ErrInvalidResponse, cmd, wantCmd)
	}

	var size int
	if lenWidth == 2 {
		size = int(binary.BigEndian.Uint16(frame[3:5]))
	} else {
		size = int(frame[3])
	}
	// size covers CMD + LEN + PAYLOAD + CSUM
	if size < 1+lenWidth+1 || len(frame) < 2+size {
		return nil, fmt.Errorf("%w: declared size %d, have %d bytes", ErrShortFrame, size, len(frame)-2)
	}

	body := frame[2 : 2+size]
	if checksum(body[:len(body)-1]) != body[len(body)-1] {
		return nil, ErrInvalidChecksum
	}

	payload := body[1+lenWidth : len(body)-1]
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
