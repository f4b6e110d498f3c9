// Package chdk implements the CHDK PTP extension protocol. All CHDK
// operations share a single vendor opcode with the real command in the
// first parameter.
package chdk

import (
	"fmt"

	"github.com/openchdk/gochdk/pkg/ptp"
)

const OpCHDK = uint16(0x9999)

// CHDK subcommands
const (
	Version             = uint32(0)
	GetMemory           = uint32(1)
	SetMemory           = uint32(2)
	CallFunction        = uint32(3)
	TempData            = uint32(4)
	UploadFile          = uint32(5)
	DownloadFile        = uint32(6)
	ExecuteScript       = uint32(7)
	ScriptStatus        = uint32(8)
	ScriptSupport       = uint32(9)
	ReadScriptMsg       = uint32(10)
	WriteScriptMsg      = uint32(11)
	GetDisplayData      = uint32(12)
	RemoteCaptureIsRdy  = uint32(13)
	RemoteCaptureGetDat = uint32(14)
)

// Script language flag for ExecuteScript
const ScriptLua = uint32(0)

// ScriptStatus flags
const (
	ScriptStatusRun = uint32(1)
	ScriptStatusMsg = uint32(2)
)

// ExecuteScript error types
const (
	ScriptErrNone    = uint32(0)
	ScriptErrCompile = uint32(1)
	ScriptErrRun     = uint32(2)
)

// WriteScriptMsg status codes
const (
	MsgWriteOK        = uint32(0)
	MsgWriteNotRun    = uint32(1)
	MsgWriteBadID     = uint32(2)
	MsgWriteQueueFull = uint32(3)
)

// TempData flags
const (
	TempDataDownload = uint32(1)
	TempDataClear    = uint32(2)
)

// Client drives the CHDK extension over one PTP connection. Not safe
// for concurrent use.
type Client struct {
	conn *ptp.Conn

	major int
	minor int
}

func NewClient(conn *ptp.Conn) *Client {
	return &Client{conn: conn}
}

// APIVersion reads the CHDK protocol version from the camera. The
// major version must match for the rest of the protocol to be usable.
func (c *Client) APIVersion() (major, minor int, err error) {
	_, params, err := c.conn.Roundtrip(OpCHDK, []uint32{Version}, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(params) < 2 {
		return 0, 0, fmt.Errorf("chdk: version response params %d", len(params))
	}
	c.major, c.minor = int(params[0]), int(params[1])
	return c.major, c.minor, nil
}

// ExecScript uploads source and starts it on the camera. Returns the
// device-assigned script ID and the immediate (compile-stage) error
// type, if any.
func (c *Client) ExecScript(source string) (scriptID int32, errType uint32, err error) {
	data := append([]byte(source), 0)
	_, params, err := c.conn.Roundtrip(OpCHDK, []uint32{ExecuteScript, ScriptLua}, data)
	if err != nil {
		return 0, 0, err
	}
	if len(params) < 2 {
		return 0, 0, fmt.Errorf("chdk: exec response params %d", len(params))
	}
	return int32(params[0]), params[1], nil
}

// Status reports whether a script is running and whether messages are
// waiting in the camera-side queue.
func (c *Client) Status() (run, msg bool, err error) {
	_, params, err := c.conn.Roundtrip(OpCHDK, []uint32{ScriptStatus}, nil)
	if err != nil {
		return false, false, err
	}
	if len(params) < 1 {
		return false, false, fmt.Errorf("chdk: status response params %d", len(params))
	}
	return params[0]&ScriptStatusRun != 0, params[0]&ScriptStatusMsg != 0, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
