// Package fakecam is an in-process camera that speaks the same command
// surface as a real CHDK device. Uploaded scripts are actually executed
// in an embedded Lua state against stubbed camera builtins and an
// in-memory storage tree, so the full protocol stack can be exercised
// without hardware.
package fakecam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync"

	"github.com/openchdk/gochdk/pkg/camera"
	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/openchdk/gochdk/pkg/luaval"
	"github.com/openchdk/gochdk/pkg/ptp"
	lua "github.com/yuin/gopher-lua"
)

type Camera struct {
	// StickyMode keeps the device in its current mode no matter how
	// often a script asks to switch, for exercising poll timeouts.
	StickyMode bool

	mu sync.Mutex

	info   camera.DeviceInfo
	closed bool

	vfs  *vfs
	mode int // 0 play, 1 record

	msgs   []*chdk.Msg
	inbox  []string
	lastID int32

	captureFormat int
	pending       []*chdk.Chunk
	expCount      int

	// SleepCalls counts sleep() invocations of the last script.
	SleepCalls int
}

func New() *Camera {
	return &Camera{
		info: camera.DeviceInfo{
			ModelName: "FakeCam A000",
			BusNum:    1,
			DevNum:    1,
			VendorID:  0x04A9,
			ProductID: 0x3264,
			SerialNum: "F4K3C4M",
		},
		vfs:  newVFS(),
		mode: 0,
	}
}

// Dial implements camera.Dialer.
func (c *Camera) Dial() (camera.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
	return c, nil
}

func (c *Camera) Info() camera.DeviceInfo {
	return c.info
}

var errClosed = errors.New("fakecam: connection closed")

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Camera) APIVersion() (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, 0, errClosed
	}
	return 2, 6, nil
}

func (c *Camera) Status() (run, msg bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false, errClosed
	}
	// scripts complete synchronously, only messages can be pending
	return false, len(c.msgs) > 0, nil
}

func (c *Camera) ReadMsg() (*chdk.Msg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if len(c.msgs) == 0 {
		return &chdk.Msg{Type: chdk.MsgNone}, nil
	}
	m := c.msgs[0]
	c.msgs = c.msgs[1:]
	return m, nil
}

func (c *Camera) WriteMsg(s string, scriptID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	if scriptID != 0 && scriptID != c.lastID {
		return fmt.Errorf("fakecam: unknown script id %d", scriptID)
	}
	c.inbox = append(c.inbox, s)
	return nil
}

// Inbox returns everything written into script inboxes so far.
func (c *Camera) Inbox() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.inbox...)
}

func (c *Camera) Upload(path string, r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.vfs.writeFile(path, data)
	return nil
}

func (c *Camera) Download(path string, w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	data, ok := c.vfs.readFile(path)
	if !ok {
		return &ptp.Error{Code: ptp.RCGeneralError}
	}
	_, err := w.Write(data)
	return err
}

func (c *Camera) CaptureReady() (status, imgnum uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, 0, errClosed
	}
	if c.captureFormat == 0 {
		return chdk.CaptureNotReady, 0, nil
	}
	for _, chunk := range c.pending {
		status |= chunk.Format
	}
	return status, uint32(c.expCount), nil
}

func (c *Camera) CaptureGetChunk(format uint32) (*chdk.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	for i, chunk := range c.pending {
		if chunk.Format == format {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return chunk, nil
		}
	}
	return &chdk.Chunk{Format: format, Offset: chdk.OffsetAppend}, nil
}

// ExecScript compiles and runs source synchronously. Runtime errors
// surface the way the real device reports them: as queued error
// messages.
func (c *Camera) ExecScript(source string) (int32, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, 0, errClosed
	}

	c.lastID++
	c.SleepCalls = 0

	ls := lua.NewState()
	defer ls.Close()
	c.register(ls)

	fn, err := ls.LoadString(source)
	if err != nil {
		c.pushError(chdk.ErrSubCompile, err.Error())
		return c.lastID, chdk.ScriptErrCompile, nil
	}

	ls.Push(fn)
	if err = ls.PCall(0, lua.MultRet, nil); err != nil {
		c.pushError(chdk.ErrSubRun, err.Error())
		return c.lastID, chdk.ScriptErrNone, nil
	}

	for i := 1; i <= ls.GetTop(); i++ {
		c.pushValue(chdk.MsgReturn, ls.Get(i))
	}
	return c.lastID, chdk.ScriptErrNone, nil
}

func (c *Camera) pushError(subtype uint32, msg string) {
	c.msgs = append(c.msgs, &chdk.Msg{
		Type:     chdk.MsgError,
		Subtype:  subtype,
		ScriptID: c.lastID,
		Data:     []byte(msg),
	})
}

func (c *Camera) pushValue(msgType uint32, lv lua.LValue) {
	m := &chdk.Msg{Type: msgType, ScriptID: c.lastID}

	switch v := lv.(type) {
	case *lua.LNilType:
		m.Subtype = chdk.SubNil
	case lua.LBool:
		m.Subtype = chdk.SubBoolean
		m.Data = make([]byte, 4)
		if v {
			binary.LittleEndian.PutUint32(m.Data, 1)
		}
	case lua.LNumber:
		m.Subtype = chdk.SubInteger
		m.Data = make([]byte, 4)
		binary.LittleEndian.PutUint32(m.Data, uint32(int32(v)))
	case lua.LString:
		m.Subtype = chdk.SubString
		m.Data = []byte(v)
	case *lua.LTable:
		gv, err := luaval.FromLua(v)
		if err != nil {
			c.pushError(chdk.ErrSubRun, err.Error())
			return
		}
		m.Subtype = chdk.SubTable
		m.Data = []byte(luaval.Marshal(gv))
	default:
		m.Subtype = chdk.SubUnsupported
		m.Data = []byte(lv.String())
	}

	c.msgs = append(c.msgs, m)
}

// GetLiveData synthesizes a small YUV411 viewport frame.
func (c *Camera) GetLiveData(flags uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}

	const w, h = 64, 48
	const header = 28
	const desc = 36

	buf := make([]byte, header+desc+w*h*6/4)
	binary.LittleEndian.PutUint32(buf, 2)            // version major
	binary.LittleEndian.PutUint32(buf[4:], 2)        // version minor
	binary.LittleEndian.PutUint32(buf[20:], header)  // vp desc start
	d := buf[header:]
	binary.LittleEndian.PutUint32(d, chdk.FBYUV8)
	binary.LittleEndian.PutUint32(d[4:], header+desc)
	binary.LittleEndian.PutUint32(d[8:], w)
	binary.LittleEndian.PutUint32(d[12:], w)
	binary.LittleEndian.PutUint32(d[16:], h)

	pix := buf[header+desc:]
	for i := 0; i < len(pix); i += 6 {
		pix[i+1], pix[i+3], pix[i+4], pix[i+5] = 128, 128, 128, 128
	}
	return buf, nil
}

// testJPEG is a small but real JPEG, what captures produce.
var testJPEG = func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

// JPEGBytes returns the image every fake capture produces.
func JPEGBytes() []byte {
	return append([]byte(nil), testJPEG...)
}

// DNGHeader and raw planes used for streamed DNG captures.
var (
	testDNGHeader = []byte("DNGHDR--fake-header-segment")
	testDNGRaw    = [][]byte{
		bytes.Repeat([]byte{0x11}, 256),
		bytes.Repeat([]byte{0x22}, 256),
	}
)

func (c *Camera) shoot() {
	c.expCount++

	switch c.captureFormat {
	case 0:
		// save to storage
		name := fmt.Sprintf("A/DCIM/100CANON/IMG_%04d.JPG", c.expCount)
		c.vfs.writeFile(name, testJPEG)

	case 6: // DNG
		c.pending = append(c.pending,
			&chdk.Chunk{Format: chdk.CaptureDNGHeader, Offset: chdk.OffsetAppend, Data: testDNGHeader})
		for i, raw := range testDNGRaw {
			c.pending = append(c.pending, &chdk.Chunk{
				Format: chdk.CaptureRaw,
				Offset: chdk.OffsetAppend,
				Last:   i == len(testDNGRaw)-1,
				Data:   raw,
			})
		}

	case 4: // raw
		for i, raw := range testDNGRaw {
			c.pending = append(c.pending, &chdk.Chunk{
				Format: chdk.CaptureRaw,
				Offset: chdk.OffsetAppend,
				Last:   i == len(testDNGRaw)-1,
				Data:   raw,
			})
		}

	default: // JPEG, split in two chunks
		half := len(testJPEG) / 2
		c.pending = append(c.pending,
			&chdk.Chunk{Format: chdk.CaptureJPEG, Offset: chdk.OffsetAppend, Data: testJPEG[:half]},
			&chdk.Chunk{Format: chdk.CaptureJPEG, Offset: chdk.OffsetAppend, Last: true, Data: testJPEG[half:]})
	}
}
