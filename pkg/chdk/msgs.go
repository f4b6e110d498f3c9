package chdk

import (
	"fmt"
)

// Script message types
const (
	MsgNone   = uint32(0)
	MsgError  = uint32(1)
	MsgReturn = uint32(2)
	MsgUser   = uint32(3)
)

// Value subtypes for return and user messages
const (
	SubUnsupported = uint32(0)
	SubNil         = uint32(1)
	SubBoolean     = uint32(2)
	SubInteger     = uint32(3)
	SubString      = uint32(4)
	SubTable       = uint32(5)
)

// Error subtypes for error messages
const (
	ErrSubCompile = uint32(1)
	ErrSubRun     = uint32(2)
)

// Msg is one entry read from the camera's outgoing script message
// queue. Data holds the raw payload, its meaning depends on Subtype.
type Msg struct {
	Type     uint32
	Subtype  uint32
	ScriptID int32
	Data     []byte
}

// ReadMsg destructively reads one message. A message with Type MsgNone
// means the queue is empty.
func (c *Client) ReadMsg() (*Msg, error) {
	data, params, err := c.conn.Roundtrip(OpCHDK, []uint32{ReadScriptMsg}, nil)
	if err != nil {
		return nil, err
	}
	if len(params) < 4 {
		return nil, fmt.Errorf("chdk: read_msg response params %d", len(params))
	}
	size := int(params[3])
	if size > len(data) {
		return nil, fmt.Errorf("chdk: read_msg size %d > %d", size, len(data))
	}
	return &Msg{
		Type:     params[0],
		Subtype:  params[1],
		ScriptID: int32(params[2]),
		Data:     data[:size],
	}, nil
}

// WriteMsg posts a string into a script's inbox. scriptID 0 targets the
// most recently started script.
func (c *Client) WriteMsg(s string, scriptID int32) error {
	_, params, err := c.conn.Roundtrip(OpCHDK, []uint32{WriteScriptMsg, uint32(scriptID)}, []byte(s))
	if err != nil {
		return err
	}
	if len(params) < 1 {
		return fmt.Errorf("chdk: write_msg response params %d", len(params))
	}
	switch params[0] {
	case MsgWriteOK:
		return nil
	case MsgWriteNotRun:
		return fmt.Errorf("chdk: write_msg: no script running")
	case MsgWriteBadID:
		return fmt.Errorf("chdk: write_msg: unknown script id %d", scriptID)
	case MsgWriteQueueFull:
		return fmt.Errorf("chdk: write_msg: queue full")
	}
	return fmt.Errorf("chdk: write_msg status %d", params[0])
}
