package ptp

import (
	"fmt"
)

// Transport moves whole containers over some bulk pipe.
type Transport interface {
	Write(b []byte) error
	Read() ([]byte, error)
	Close() error
}

// Conn sequences transactions over a Transport. Not safe for concurrent
// use, callers serialize access to one device.
type Conn struct {
	t   Transport
	tid uint32
}

func NewConn(t Transport) *Conn {
	return &Conn{t: t}
}

// Roundtrip runs one transaction: command, optional data-out phase,
// then reads data-in and response phases. Returns received payload and
// the response params.
func (c *Conn) Roundtrip(code uint16, params []uint32, send []byte) (data []byte, rparams []uint32, err error) {
	c.tid++

	cmd := &Container{Type: TypeCommand, Code: code, TransactionID: c.tid, Params: params}
	if err = c.t.Write(cmd.Marshal()); err != nil {
		return nil, nil, err
	}

	if send != nil {
		out := &Container{Type: TypeData, Code: code, TransactionID: c.tid, Payload: send}
		if err = c.t.Write(out.Marshal()); err != nil {
			return nil, nil, err
		}
	}

	for {
		var b []byte
		if b, err = c.t.Read(); err != nil {
			return nil, nil, err
		}

		var in *Container
		if in, err = Unmarshal(b); err != nil {
			return nil, nil, err
		}
		if in.TransactionID != c.tid {
			return nil, nil, fmt.Errorf("ptp: transaction %d != %d", in.TransactionID, c.tid)
		}

		switch in.Type {
		case TypeData:
			data = append(data, in.Payload...)
		case TypeResponse:
			if in.Code != RCOK {
				return nil, nil, &Error{Code: in.Code}
			}
			return data, in.Params, nil
		default:
			return nil, nil, fmt.Errorf("ptp: unexpected container type %d", in.Type)
		}
	}
}

func (c *Conn) OpenSession() error {
	// session ID 1, transaction IDs restart with the session
	c.tid = 0
	cmd := &Container{Type: TypeCommand, Code: OpOpenSession, Params: []uint32{1}}
	if err := c.t.Write(cmd.Marshal()); err != nil {
		return err
	}
	b, err := c.t.Read()
	if err != nil {
		return err
	}
	in, err := Unmarshal(b)
	if err != nil {
		return err
	}
	if in.Type != TypeResponse {
		return fmt.Errorf("ptp: unexpected container type %d", in.Type)
	}
	// already-open session is fine after a reconnect
	if in.Code != RCOK && in.Code != RCSessionAlreadyOpen {
		return &Error{Code: in.Code}
	}
	return nil
}

func (c *Conn) CloseSession() error {
	_, _, err := c.Roundtrip(OpCloseSession, nil, nil)
	return err
}

func (c *Conn) Close() error {
	return c.t.Close()
}
