// Package ptp implements the PTP container framing used to talk to
// still image devices over USB bulk endpoints.
package ptp

import (
	"encoding/binary"
	"fmt"
)

const HeaderSize = 12

// Container types
const (
	TypeCommand  = uint16(1)
	TypeData     = uint16(2)
	TypeResponse = uint16(3)
	TypeEvent    = uint16(4)
)

// Standard operation codes
const (
	OpGetDeviceInfo = uint16(0x1001)
	OpOpenSession   = uint16(0x1002)
	OpCloseSession  = uint16(0x1003)
)

// Response codes
const (
	RCOK                    = uint16(0x2001)
	RCGeneralError          = uint16(0x2002)
	RCSessionNotOpen        = uint16(0x2003)
	RCInvalidTransactionID  = uint16(0x2004)
	RCOperationNotSupported = uint16(0x2005)
	RCParameterNotSupported = uint16(0x2006)
	RCIncompleteTransfer    = uint16(0x2007)
	RCDeviceBusy            = uint16(0x2019)
	RCInvalidParameter      = uint16(0x201D)
	RCSessionAlreadyOpen    = uint16(0x201E)
)

// Container is a single PTP bulk transfer unit. Command and Response
// containers carry up to five uint32 params as payload, Data containers
// carry raw bytes.
type Container struct {
	Type          uint16
	Code          uint16
	TransactionID uint32
	Params        []uint32
	Payload       []byte
}

func (c *Container) Marshal() []byte {
	n := HeaderSize + 4*len(c.Params) + len(c.Payload)
	b := make([]byte, n)
	binary.LittleEndian.PutUint32(b, uint32(n))
	binary.LittleEndian.PutUint16(b[4:], c.Type)
	binary.LittleEndian.PutUint16(b[6:], c.Code)
	binary.LittleEndian.PutUint32(b[8:], c.TransactionID)
	for i, p := range c.Params {
		binary.LittleEndian.PutUint32(b[HeaderSize+4*i:], p)
	}
	copy(b[HeaderSize+4*len(c.Params):], c.Payload)
	return b
}

func Unmarshal(b []byte) (*Container, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("ptp: short container: %d bytes", len(b))
	}
	if size := binary.LittleEndian.Uint32(b); int(size) != len(b) {
		return nil, fmt.Errorf("ptp: container size %d != %d", size, len(b))
	}
	c := &Container{
		Type:          binary.LittleEndian.Uint16(b[4:]),
		Code:          binary.LittleEndian.Uint16(b[6:]),
		TransactionID: binary.LittleEndian.Uint32(b[8:]),
	}
	body := b[HeaderSize:]
	switch c.Type {
	case TypeCommand, TypeResponse, TypeEvent:
		if len(body)%4 != 0 || len(body) > 20 {
			return nil, fmt.Errorf("ptp: bad params length %d", len(body))
		}
		for len(body) > 0 {
			c.Params = append(c.Params, binary.LittleEndian.Uint32(body))
			body = body[4:]
		}
	case TypeData:
		c.Payload = body
	default:
		return nil, fmt.Errorf("ptp: unknown container type %d", c.Type)
	}
	return c, nil
}

// Error is a non-OK PTP response code.
type Error struct {
	Code uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("ptp: response 0x%04X", e.Code)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}
