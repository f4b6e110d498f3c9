package chdk

import (
	"encoding/binary"
	"fmt"
)

// GetDisplayData flags, selecting which buffers the camera includes.
const (
	LiveViewport = uint32(1)
	LiveBitmap   = uint32(4)
	LivePalette  = uint32(8)
)

// Framebuffer pixel formats
const (
	FBYUV8 = uint32(1) // YUV 4:1:1, 6 bytes per 4 pixels
)

const (
	lvHeaderSize = 28 // 7 words
	lvDescSize   = 36 // 9 words
)

// GetLiveData fetches one raw live view transfer buffer.
func (c *Client) GetLiveData(flags uint32) ([]byte, error) {
	data, _, err := c.conn.Roundtrip(OpCHDK, []uint32{GetDisplayData, flags}, nil)
	return data, err
}

// Framebuffer describes one of the live view buffers inside a
// transfer.
type Framebuffer struct {
	Type          uint32
	DataStart     uint32
	BufferWidth   uint32
	VisibleWidth  uint32
	VisibleHeight uint32
	MarginLeft    uint32
	MarginTop     uint32
	MarginRight   uint32
	MarginBottom  uint32
}

// LiveFrame is a parsed live view transfer.
type LiveFrame struct {
	VersionMajor uint32
	VersionMinor uint32
	AspectRatio  uint32
	Viewport     *Framebuffer

	raw []byte
}

func ParseLiveFrame(b []byte) (*LiveFrame, error) {
	if len(b) < lvHeaderSize {
		return nil, fmt.Errorf("chdk: short live view header: %d bytes", len(b))
	}
	f := &LiveFrame{
		VersionMajor: binary.LittleEndian.Uint32(b),
		VersionMinor: binary.LittleEndian.Uint32(b[4:]),
		AspectRatio:  binary.LittleEndian.Uint32(b[8:]),
		raw:          b,
	}
	vpStart := binary.LittleEndian.Uint32(b[20:])
	if vpStart != 0 {
		vp, err := parseFramebuffer(b, vpStart)
		if err != nil {
			return nil, err
		}
		f.Viewport = vp
	}
	return f, nil
}

func parseFramebuffer(b []byte, off uint32) (*Framebuffer, error) {
	if int(off)+lvDescSize > len(b) {
		return nil, fmt.Errorf("chdk: framebuffer desc at %d out of range", off)
	}
	d := b[off:]
	return &Framebuffer{
		Type:          binary.LittleEndian.Uint32(d),
		DataStart:     binary.LittleEndian.Uint32(d[4:]),
		BufferWidth:   binary.LittleEndian.Uint32(d[8:]),
		VisibleWidth:  binary.LittleEndian.Uint32(d[12:]),
		VisibleHeight: binary.LittleEndian.Uint32(d[16:]),
		MarginLeft:    binary.LittleEndian.Uint32(d[20:]),
		MarginTop:     binary.LittleEndian.Uint32(d[24:]),
		MarginRight:   binary.LittleEndian.Uint32(d[28:]),
		MarginBottom:  binary.LittleEndian.Uint32(d[32:]),
	}, nil
}

// RGB converts the viewport buffer to packed interleaved RGB. With
// scaled the horizontal resolution is halved, which fixes the aspect
// ratio of the wide Digic viewport at some cost in fidelity.
func (f *LiveFrame) RGB(scaled bool) (width, height int, pix []byte, err error) {
	vp := f.Viewport
	if vp == nil {
		return 0, 0, nil, fmt.Errorf("chdk: live frame has no viewport")
	}
	if vp.Type != FBYUV8 {
		return 0, 0, nil, fmt.Errorf("chdk: unsupported framebuffer type %d", vp.Type)
	}

	rowBytes := int(vp.BufferWidth) * 6 / 4
	need := int(vp.DataStart) + rowBytes*int(vp.VisibleHeight)
	if need > len(f.raw) {
		return 0, 0, nil, fmt.Errorf("chdk: live frame truncated: need %d have %d", need, len(f.raw))
	}
	data := f.raw[vp.DataStart:]

	width = int(vp.VisibleWidth)
	height = int(vp.VisibleHeight)
	if scaled {
		width /= 2
	}

	pix = make([]byte, 0, width*height*3)
	for row := 0; row < height; row++ {
		src := data[row*rowBytes:]
		for x := 0; x < int(vp.VisibleWidth); x += 4 {
			g := src[x/4*6 : x/4*6+6]
			u, v := int(int8(g[0])), int(int8(g[2]))
			if scaled {
				pix = yuvToRGB(pix, int(g[1]), u, v)
				pix = yuvToRGB(pix, int(g[4]), u, v)
			} else {
				pix = yuvToRGB(pix, int(g[1]), u, v)
				pix = yuvToRGB(pix, int(g[3]), u, v)
				pix = yuvToRGB(pix, int(g[4]), u, v)
				pix = yuvToRGB(pix, int(g[5]), u, v)
			}
		}
	}
	return width, height, pix, nil
}

func yuvToRGB(dst []byte, y, u, v int) []byte {
	return append(dst,
		clamp8(y+((v*1436)>>10)),
		clamp8(y-((u*352+v*731)>>10)),
		clamp8(y+((u*1814)>>10)),
	)
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
