package chdk

import (
	"fmt"
)

// Remote capture data formats, also used as ready-status bits.
const (
	CaptureJPEG      = uint32(1)
	CaptureRaw       = uint32(2)
	CaptureDNGHeader = uint32(4)
)

// CaptureNotReady is reported by CaptureReady while the camera has no
// remote capture initialized.
const CaptureNotReady = uint32(0x10000000)

// OffsetAppend in a chunk means the data continues at the current
// position instead of seeking.
const OffsetAppend = uint32(0xFFFFFFFF)

// Chunk is one fragment of a remotely captured image.
type Chunk struct {
	Format uint32
	Offset uint32 // OffsetAppend or absolute position
	Last   bool
	Data   []byte
}

// CaptureReady polls the remote capture state. status is a bitmask of
// formats with data pending, or CaptureNotReady.
func (c *Client) CaptureReady() (status uint32, imgnum uint32, err error) {
	_, params, err := c.conn.Roundtrip(OpCHDK, []uint32{RemoteCaptureIsRdy}, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(params) < 2 {
		return 0, 0, fmt.Errorf("chdk: capture_ready response params %d", len(params))
	}
	return params[0], params[1], nil
}

// CaptureGetChunk fetches the next chunk for one format.
func (c *Client) CaptureGetChunk(format uint32) (*Chunk, error) {
	data, params, err := c.conn.Roundtrip(OpCHDK, []uint32{RemoteCaptureGetDat, format}, nil)
	if err != nil {
		return nil, err
	}
	if len(params) < 2 {
		return nil, fmt.Errorf("chdk: capture_chunk response params %d", len(params))
	}
	return &Chunk{
		Format: format,
		Offset: params[1],
		Last:   params[0] != 0,
		Data:   data,
	}, nil
}
