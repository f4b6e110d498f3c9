package fakecam

import (
	"bytes"
	"strings"
	"testing"

	"github.com/openchdk/gochdk/pkg/chdk"
	"github.com/stretchr/testify/require"
)

func TestExecScript(t *testing.T) {
	c := New()

	id, errType, err := c.ExecScript("return 1+2")
	require.NoError(t, err)
	require.Equal(t, chdk.ScriptErrNone, errType)
	require.EqualValues(t, 1, id)

	m, err := c.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, chdk.MsgReturn, m.Type)
	require.Equal(t, chdk.SubInteger, m.Subtype)
	require.Equal(t, []byte{3, 0, 0, 0}, m.Data)

	// queue drained
	m, err = c.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, chdk.MsgNone, m.Type)

	_, errType, err = c.ExecScript("return ((")
	require.NoError(t, err)
	require.Equal(t, chdk.ScriptErrCompile, errType)
	m, err = c.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, chdk.MsgError, m.Type)
}

func TestStorage(t *testing.T) {
	c := New()

	require.NoError(t, c.Upload("A/test.txt", strings.NewReader("data")))

	var buf bytes.Buffer
	require.NoError(t, c.Download("A/test.txt", &buf))
	require.Equal(t, "data", buf.String())

	require.Error(t, c.Download("A/missing", &buf))

	// scripts see the same tree
	_, _, err := c.ExecScript("return os.stat('A/test.txt').size")
	require.NoError(t, err)
	m, err := c.ReadMsg()
	require.NoError(t, err)
	require.Equal(t, []byte{4, 0, 0, 0}, m.Data)
}

func TestCaptureChunks(t *testing.T) {
	c := New()

	_, _, err := c.ExecScript("init_usb_capture(1, 0, 0) shoot()")
	require.NoError(t, err)

	status, _, err := c.CaptureReady()
	require.NoError(t, err)
	require.Equal(t, chdk.CaptureJPEG, status)

	var data []byte
	for {
		chunk, err := c.CaptureGetChunk(chdk.CaptureJPEG)
		require.NoError(t, err)
		data = append(data, chunk.Data...)
		if chunk.Last {
			break
		}
	}
	require.Equal(t, JPEGBytes(), data)
}
