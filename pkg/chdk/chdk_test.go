package chdk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/openchdk/gochdk/pkg/ptp"
	"github.com/stretchr/testify/require"
)

// miniDevice answers CHDK commands at the container level with canned
// behavior, just enough to exercise the client side of the wire format.
type miniDevice struct {
	t     ptp.Transport
	files map[string][]byte
	msgs  []*Msg
	temp  string
}

func (d *miniDevice) serve() {
	for {
		b, err := d.t.Read()
		if err != nil {
			return
		}
		cmd, err := ptp.Unmarshal(b)
		if err != nil {
			return
		}

		var payload []byte
		if cmd.Type == ptp.TypeCommand && len(cmd.Params) > 0 {
			switch cmd.Params[0] {
			case UploadFile, WriteScriptMsg, TempData, ExecuteScript:
				// data-out phase follows
				if b, err = d.t.Read(); err != nil {
					return
				}
				data, err := ptp.Unmarshal(b)
				if err != nil {
					return
				}
				payload = data.Payload
			}
		}

		data, params := d.handle(cmd, payload)
		if data != nil {
			out := &ptp.Container{Type: ptp.TypeData, Code: cmd.Code, TransactionID: cmd.TransactionID, Payload: data}
			_ = d.t.Write(out.Marshal())
		}
		res := &ptp.Container{Type: ptp.TypeResponse, Code: ptp.RCOK, TransactionID: cmd.TransactionID, Params: params}
		_ = d.t.Write(res.Marshal())
	}
}

func (d *miniDevice) handle(cmd *ptp.Container, payload []byte) (data []byte, params []uint32) {
	switch cmd.Params[0] {
	case Version:
		return nil, []uint32{2, 6}
	case ExecuteScript:
		return nil, []uint32{42, ScriptErrNone}
	case ScriptStatus:
		var flags uint32
		if len(d.msgs) > 0 {
			flags |= ScriptStatusMsg
		}
		return nil, []uint32{flags}
	case ReadScriptMsg:
		if len(d.msgs) == 0 {
			return nil, []uint32{MsgNone, 0, 0, 0}
		}
		m := d.msgs[0]
		d.msgs = d.msgs[1:]
		return m.Data, []uint32{m.Type, m.Subtype, uint32(m.ScriptID), uint32(len(m.Data))}
	case WriteScriptMsg:
		return nil, []uint32{MsgWriteOK}
	case UploadFile:
		n := binary.LittleEndian.Uint32(payload)
		name := string(payload[4 : 4+n])
		d.files[name] = append([]byte(nil), payload[4+n:]...)
		return nil, nil
	case TempData:
		d.temp = string(payload)
		return nil, nil
	case DownloadFile:
		return d.files[d.temp], nil
	}
	return nil, nil
}

func newTestClient() (*Client, *miniDevice) {
	host, devT := ptp.Pipe()
	dev := &miniDevice{t: devT, files: map[string][]byte{}}
	go dev.serve()
	return NewClient(ptp.NewConn(host)), dev
}

func TestAPIVersion(t *testing.T) {
	c, _ := newTestClient()
	major, minor, err := c.APIVersion()
	require.NoError(t, err)
	require.Equal(t, 2, major)
	require.Equal(t, 6, minor)
}

func TestExecAndMessages(t *testing.T) {
	c, dev := newTestClient()

	id, errType, err := c.ExecScript("return 1")
	require.NoError(t, err)
	require.Equal(t, int32(42), id)
	require.Equal(t, ScriptErrNone, errType)

	dev.msgs = append(dev.msgs, &Msg{Type: MsgReturn, Subtype: SubInteger, ScriptID: 42, Data: []byte("1")})

	_, msg, err := c.Status()
	require.NoError(t, err)
	require.True(t, msg)

	m, err := c.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, MsgReturn, m.Type)
	require.Equal(t, []byte("1"), m.Data)

	m, err = c.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, MsgNone, m.Type)

	require.NoError(t, c.WriteMsg("ping", 42))
}

func TestUploadDownload(t *testing.T) {
	c, dev := newTestClient()

	require.NoError(t, c.Upload("A/TEST.TXT", bytes.NewReader([]byte("hello"))))
	require.Equal(t, []byte("hello"), dev.files["A/TEST.TXT"])

	var buf bytes.Buffer
	require.NoError(t, c.Download("A/TEST.TXT", &buf))
	require.Equal(t, "hello", buf.String())
}

func TestLiveFrameRGB(t *testing.T) {
	// 8x2 YUV411 viewport, neutral chroma, Y ramp
	buf := make([]byte, lvHeaderSize+lvDescSize+2*12)
	binary.LittleEndian.PutUint32(buf, 2)                   // version major
	binary.LittleEndian.PutUint32(buf[20:], lvHeaderSize)   // vp desc start
	d := buf[lvHeaderSize:]
	binary.LittleEndian.PutUint32(d, FBYUV8)
	binary.LittleEndian.PutUint32(d[4:], lvHeaderSize+lvDescSize) // data start
	binary.LittleEndian.PutUint32(d[8:], 8)                       // buffer width
	binary.LittleEndian.PutUint32(d[12:], 8)                      // visible width
	binary.LittleEndian.PutUint32(d[16:], 2)                      // visible height
	pixdata := buf[lvHeaderSize+lvDescSize:]
	for i := range pixdata {
		pixdata[i] = 0
	}
	for g := 0; g < 4; g++ {
		pixdata[g*6+1] = 100 // y0
		pixdata[g*6+3] = 100
		pixdata[g*6+4] = 100
		pixdata[g*6+5] = 100
	}

	f, err := ParseLiveFrame(buf)
	require.NoError(t, err)
	require.NotNil(t, f.Viewport)

	w, h, pix, err := f.RGB(false)
	require.NoError(t, err)
	require.Equal(t, 8, w)
	require.Equal(t, 2, h)
	require.Len(t, pix, 8*2*3)
	// neutral chroma means R == G == B == Y
	require.Equal(t, byte(100), pix[0])
	require.Equal(t, byte(100), pix[1])
	require.Equal(t, byte(100), pix[2])

	w, _, pix, err = f.RGB(true)
	require.NoError(t, err)
	require.Equal(t, 4, w)
	require.Len(t, pix, 4*2*3)
}
