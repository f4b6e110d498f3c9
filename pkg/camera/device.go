// Package camera is the high level API for CHDK cameras: session
// management, remote script execution, file transfer, capture and
// live view. One Device owns one physical connection and all of its
// operations are sequential, callers must serialize access.
package camera

import (
	"fmt"
	"io"
	"time"

	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/rs/zerolog"
)

// APIMajor is the CHDK protocol major version this package speaks.
// Minor differences are backwards compatible, major ones are not.
const APIMajor = 2

const (
	// canonical bounded poll for state confirmation
	pollInterval = 10 * time.Millisecond
	pollAttempts = 300

	// script completion is device-paced, polled without a ceiling
	waitPollInterval = 20 * time.Millisecond
)

// Conn is the low level command surface of one connected camera.
// Implemented by chdk.Client over USB and by fakecam for tests.
type Conn interface {
	APIVersion() (major, minor int, err error)
	ExecScript(source string) (scriptID int32, errType uint32, err error)
	Status() (run, msg bool, err error)
	ReadMsg() (*chdk.Msg, error)
	WriteMsg(s string, scriptID int32) error
	Upload(path string, r io.Reader) error
	Download(path string, w io.Writer) error
	GetLiveData(flags uint32) ([]byte, error)
	CaptureReady() (status, imgnum uint32, err error)
	CaptureGetChunk(format uint32) (*chdk.Chunk, error)
	Close() error
}

// Dialer opens connections to one physical device, so a Device can be
// reconnected without losing identity.
type Dialer interface {
	Dial() (Conn, error)
	Info() DeviceInfo
}

// DeviceInfo identifies a physical device on the bus.
type DeviceInfo struct {
	ModelName string `json:"model_name"`
	BusNum    int    `json:"bus_num"`
	DevNum    int    `json:"dev_num"`
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`
	SerialNum string `json:"serial_num"`
	APIMajor  int    `json:"api_major"`
	APIMinor  int    `json:"api_minor"`
}

// Device modes
const (
	ModeRecord = "record"
	ModePlay   = "play"
)

// Connection states
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

type Device struct {
	Info DeviceInfo
	Log  zerolog.Logger

	dialer Dialer
	conn   Conn
	state  string

	lastScriptID int32
}

// List probes every device a set of dialers can reach: connect, read
// the CHDK protocol version, disconnect.
func List(dialers []Dialer) []DeviceInfo {
	var infos []DeviceInfo
	for _, d := range dialers {
		conn, err := d.Dial()
		if err != nil {
			continue
		}
		info := d.Info()
		info.APIMajor, info.APIMinor, _ = conn.APIVersion()
		_ = conn.Close()
		infos = append(infos, info)
	}
	return infos
}

// Connect opens a session to one device and verifies protocol
// compatibility.
func Connect(dialer Dialer) (*Device, error) {
	d := &Device{
		Info:   dialer.Info(),
		Log:    zerolog.Nop(),
		dialer: dialer,
		state:  StateConnecting,
	}
	if err := d.dial(); err != nil {
		d.state = StateDisconnected
		return nil, err
	}
	return d, nil
}

func (d *Device) dial() error {
	conn, err := d.dialer.Dial()
	if err != nil {
		return fmt.Errorf("camera: connect: %w", err)
	}

	major, minor, err := conn.APIVersion()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("camera: connect: %w", err)
	}
	if major != APIMajor {
		_ = conn.Close()
		return fmt.Errorf("camera: unsupported protocol version %d.%d", major, minor)
	}

	d.conn = conn
	d.state = StateConnected
	d.Info.APIMajor = major
	d.Info.APIMinor = minor
	return nil
}

func (d *Device) State() string {
	return d.state
}

// IsConnected pings the device. Side effect free.
func (d *Device) IsConnected() bool {
	if d.conn == nil {
		return false
	}
	_, _, err := d.conn.APIVersion()
	return err == nil
}

// Reconnect tears the link down and re-establishes it after wait.
// With strict a failed reconnect is returned as error, otherwise the
// device is left disconnected silently.
func (d *Device) Reconnect(wait time.Duration, strict bool) error {
	d.Disconnect()
	d.state = StateConnecting
	time.Sleep(wait)

	if err := d.dial(); err != nil {
		d.state = StateDisconnected
		if strict {
			return err
		}
		d.Log.Warn().Err(err).Msg("reconnect failed")
	}
	return nil
}

// Reboot restarts the camera, optionally into bootfile, then
// reconnects.
func (d *Device) Reboot(wait time.Duration, bootfile string) error {
	src := "sleep(1000); reboot()"
	if bootfile != "" {
		src = fmt.Sprintf("sleep(1000); reboot(%s)", quote(ToCameraPath(bootfile)))
	}
	if _, err := d.Execute(src, &ExecOptions{NoWait: true}); err != nil {
		return err
	}
	return d.Reconnect(wait, true)
}

func (d *Device) Disconnect() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
	d.state = StateDisconnected
}

// Mode reports the current device mode, record or play.
func (d *Device) Mode() (string, error) {
	vals, err := d.Execute("return get_mode()", nil)
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", fmt.Errorf("camera: get_mode returned nothing")
	}
	if vals[0].Truthy() {
		return ModeRecord, nil
	}
	return ModePlay, nil
}

// SwitchMode moves the device into the target mode. A no-op when the
// device already is there. The switch is confirmed on the camera with
// the canonical bounded poll: 10ms interval, 300 attempts.
func (d *Device) SwitchMode(mode string) error {
	if mode != ModeRecord && mode != ModePlay {
		return fmt.Errorf("%w: mode must be %q or %q", ErrValidation, ModeRecord, ModePlay)
	}

	current, err := d.Mode()
	if err != nil {
		return err
	}
	if current == mode {
		return nil
	}

	modeNum := 0
	if mode == ModeRecord {
		modeNum = 1
	}
	vals, err := d.Execute(fmt.Sprintf(srcSwitchMode, modeNum, modeNum, modeNum), nil)
	if err != nil {
		return err
	}
	if len(vals) == 0 || !vals[0].Truthy() {
		return fmt.Errorf("%w: %s not reached: %w", ErrModeSwitch, mode, ErrTimeout)
	}

	d.Log.Debug().Str("mode", mode).Msg("mode switched")
	return nil
}

// pollUntil is the canonical retry policy for state confirmation:
// fixed interval, fixed attempt ceiling, ErrTimeout on exhaustion.
func pollUntil(interval time.Duration, attempts int, fn func() (bool, error)) error {
	for i := 0; i < attempts; i++ {
		ok, err := fn()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		time.Sleep(interval)
	}
	return ErrTimeout
}
