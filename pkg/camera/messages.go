package camera

import (
	"encoding/binary"
	"fmt"

	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/openchdk/gochdk/pkg/luaval"
)

type MessageType byte

const (
	MessageReturn MessageType = iota
	MessageUser
	MessageError
)

func (t MessageType) String() string {
	switch t {
	case MessageReturn:
		return "return"
	case MessageUser:
		return "user"
	case MessageError:
		return "error"
	}
	return "unknown"
}

// Message is one unit of communication from a running script. Error
// messages carry their decoded error in Err.
type Message struct {
	Type     MessageType
	ScriptID int32
	Value    luaval.Value
	Err      error
}

// Messages destructively drains the per-session message buffer until
// the none sentinel.
func (d *Device) Messages() ([]Message, error) {
	if d.conn == nil {
		return nil, ErrNotConnected
	}

	var msgs []Message
	for {
		raw, err := d.conn.ReadMsg()
		if err != nil {
			return msgs, d.wrapConnErr(err)
		}
		if raw.Type == chdk.MsgNone {
			return msgs, nil
		}
		m, err := decodeMsg(raw)
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
}

// SendMessage writes into the named script's inbox. scriptID 0 targets
// the most recently started script.
func (d *Device) SendMessage(s string, scriptID int32) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	if scriptID == 0 {
		scriptID = d.lastScriptID
	}
	return d.wrapConnErr(d.conn.WriteMsg(s, scriptID))
}

func decodeMsg(raw *chdk.Msg) (Message, error) {
	switch raw.Type {
	case chdk.MsgReturn, chdk.MsgUser:
		v, err := decodeValue(raw)
		if err != nil {
			return Message{}, err
		}
		t := MessageReturn
		if raw.Type == chdk.MsgUser {
			t = MessageUser
		}
		return Message{Type: t, ScriptID: raw.ScriptID, Value: v}, nil

	case chdk.MsgError:
		return Message{
			Type:     MessageError,
			ScriptID: raw.ScriptID,
			Value:    luaval.NewString(string(raw.Data)),
			Err:      decodeError(raw),
		}, nil
	}
	return Message{}, fmt.Errorf("camera: unknown message type %d", raw.Type)
}

func decodeValue(raw *chdk.Msg) (luaval.Value, error) {
	switch raw.Subtype {
	case chdk.SubNil:
		return luaval.NewNil(), nil
	case chdk.SubBoolean:
		if len(raw.Data) < 4 {
			return luaval.Value{}, fmt.Errorf("camera: short boolean message")
		}
		return luaval.NewBool(binary.LittleEndian.Uint32(raw.Data) != 0), nil
	case chdk.SubInteger:
		if len(raw.Data) < 4 {
			return luaval.Value{}, fmt.Errorf("camera: short integer message")
		}
		return luaval.NewInt(int64(int32(binary.LittleEndian.Uint32(raw.Data)))), nil
	case chdk.SubString, chdk.SubUnsupported:
		return luaval.NewString(string(raw.Data)), nil
	case chdk.SubTable:
		return luaval.Unmarshal(string(raw.Data))
	}
	return luaval.Value{}, fmt.Errorf("camera: unknown message subtype %d", raw.Subtype)
}

// decodeError distinguishes a plain script runtime error from a
// structured device error. The latter arrives as a serialized table
// with etype, msg, ptp_rc and traceback fields.
func decodeError(raw *chdk.Msg) error {
	text := string(raw.Data)

	if raw.Subtype == chdk.SubTable {
		v, err := luaval.Unmarshal(text)
		if err == nil && v.Get("etype").String() == "ptp" {
			return &PTPError{
				Msg:       v.Get("msg").String(),
				Code:      uint16(v.Get("ptp_rc").Int()),
				Traceback: v.Get("traceback").String(),
			}
		}
	}
	return &ScriptError{Msg: text}
}
