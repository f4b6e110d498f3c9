package camera

import (
	"errors"
	"fmt"

	"github.com/openchdk/gochdk/pkg/ptp"
)

var (
	// ErrValidation marks malformed caller input, detected before any
	// device round-trip.
	ErrValidation = errors.New("invalid argument")

	// ErrTimeout marks an exhausted bounded poll.
	ErrTimeout = errors.New("timed out waiting for camera")

	ErrNotConnected      = errors.New("camera not connected")
	ErrModeSwitch        = errors.New("mode switch failed")
	ErrUnsupportedFormat = errors.New("unsupported frame format")
	ErrNotImplemented    = errors.New("not implemented")
)

// ScriptError is a plain runtime error raised by the remote script.
type ScriptError struct {
	Msg       string
	Traceback string
}

func (e *ScriptError) Error() string {
	return "script error: " + e.Msg
}

// PTPError is a device or protocol level fault. Unlike ScriptError it
// carries the PTP status code, so callers can tell a broken script
// from a camera that rejected the operation.
type PTPError struct {
	Msg       string
	Code      uint16
	Traceback string
}

func (e *PTPError) Error() string {
	return fmt.Sprintf("%s (ptp_code: 0x%04X)", e.Msg, e.Code)
}

// wrapConnErr turns transport level failures into the error taxonomy
// of this package.
func (d *Device) wrapConnErr(err error) error {
	var pe *ptp.Error
	if errors.As(err, &pe) {
		return &PTPError{Msg: "device rejected operation", Code: pe.Code}
	}
	return err
}
