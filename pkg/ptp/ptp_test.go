package ptp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainerMarshal(t *testing.T) {
	c := &Container{Type: TypeCommand, Code: 0x9999, TransactionID: 7, Params: []uint32{1, 2}}
	b := c.Marshal()
	require.Equal(t, []byte{
		20, 0, 0, 0, // length
		1, 0, // command
		0x99, 0x99, // code
		7, 0, 0, 0, // transaction
		1, 0, 0, 0,
		2, 0, 0, 0,
	}, b)

	c2, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, c, c2)
}

func TestContainerData(t *testing.T) {
	c := &Container{Type: TypeData, Code: 0x9999, TransactionID: 1, Payload: []byte("hello")}
	c2, err := Unmarshal(c.Marshal())
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), c2.Payload)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	require.Error(t, err)

	c := &Container{Type: TypeCommand, Code: 1, TransactionID: 1}
	b := c.Marshal()
	b[0] = 99 // break size field
	_, err = Unmarshal(b)
	require.Error(t, err)
}

func TestRoundtrip(t *testing.T) {
	host, dev := Pipe()

	go func() {
		for {
			b, err := dev.Read()
			if err != nil {
				return
			}
			cmd, err := Unmarshal(b)
			if err != nil || cmd.Type != TypeCommand {
				return
			}
			data := &Container{Type: TypeData, Code: cmd.Code, TransactionID: cmd.TransactionID, Payload: []byte("pong")}
			_ = dev.Write(data.Marshal())
			res := &Container{Type: TypeResponse, Code: RCOK, TransactionID: cmd.TransactionID, Params: []uint32{42}}
			_ = dev.Write(res.Marshal())
		}
	}()

	conn := NewConn(host)
	data, params, err := conn.Roundtrip(0x9999, []uint32{1}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), data)
	require.Equal(t, []uint32{42}, params)

	_ = conn.Close()
	_, _, err = conn.Roundtrip(0x9999, nil, nil)
	require.Error(t, err)
}

func TestRoundtripError(t *testing.T) {
	host, dev := Pipe()

	go func() {
		b, _ := dev.Read()
		cmd, _ := Unmarshal(b)
		res := &Container{Type: TypeResponse, Code: RCDeviceBusy, TransactionID: cmd.TransactionID}
		_ = dev.Write(res.Marshal())
	}()

	conn := NewConn(host)
	_, _, err := conn.Roundtrip(0x9999, nil, nil)
	require.ErrorIs(t, err, &Error{Code: RCDeviceBusy})
}
