package motor

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for any operation after Close.
var ErrClosed = errors.New("motor client closed")

// ErrAlarmActive is returned by MoveTo when the controller alarm could not
// be reset; the motor is left un-moved.
var ErrAlarmActive = errors.New("motor alarm could not be reset")

// ConnectError is fatal: the retry budget was exhausted without reaching
// the controller.
type ConnectError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s failed after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError is a Nack (`?<code>`) reply from the controller. It is an
// ordinary, recoverable outcome; the caller decides whether to retry.
type ProtocolError struct {
	Command string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("nack from command %s: %d - %s", e.Command, e.Code, msg)
}
