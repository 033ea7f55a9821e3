package ws

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Frames travel as binary WebSocket messages. A heartbeat is the single byte
// 0x00; a property update is name, 0x00, value. The first NUL is the
// delimiter, so names must not contain one.
const frameSeparator byte = 0x00

// Heartbeat is the liveness-only frame.
var Heartbeat = []byte{frameSeparator}

var (
	ErrInvalidName  = errors.New("property name contains NUL")
	ErrInvalidValue = errors.New("property value contains NUL")
)

// Update is one property change carried to peers.
type Update struct {
	Property string
	Value    string
}

func (u Update) String() string {
	return u.Property + "=" + u.Value
}

// ProtocolError reports a malformed synchronization frame.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// EncodeUpdate builds the wire frame for u.
func EncodeUpdate(u Update) ([]byte, error) {
	if u.Property == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if bytes.IndexByte([]byte(u.Property), frameSeparator) >= 0 {
		return nil, ErrInvalidName
	}
	if bytes.IndexByte([]byte(u.Value), frameSeparator) >= 0 {
		return nil, ErrInvalidValue
	}
	frame := make([]byte, 0, len(u.Property)+1+len(u.Value))
	frame = append(frame, u.Property...)
	frame = append(frame, frameSeparator)
	frame = append(frame, u.Value...)
	return frame, nil
}

// IsHeartbeat reports whether frame is the liveness sentinel.
func IsHeartbeat(frame []byte) bool {
	return len(frame) == 1 && frame[0] == frameSeparator
}

// DecodeFrame splits an update frame at its first NUL.
func DecodeFrame(frame []byte) (Update, error) {
	i := bytes.IndexByte(frame, frameSeparator)
	if i < 0 {
		return Update{}, &ProtocolError{Reason: "missing NUL separator"}
	}
	name, value := frame[:i], frame[i+1:]
	if len(name) == 0 {
		return Update{}, &ProtocolError{Reason: "empty property name"}
	}
	if !utf8.Valid(name) {
		return Update{}, &ProtocolError{Reason: "invalid UTF-8 in property"}
	}
	if !utf8.Valid(value) {
		return Update{}, &ProtocolError{Reason: "invalid UTF-8 in value"}
	}
	return Update{Property: string(name), Value: string(value)}, nil
}
