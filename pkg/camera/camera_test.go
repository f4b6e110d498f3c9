package camera_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openchdk/gochdk/pkg/camera"
	"github.com/openchdk/gochdk/pkg/fakecam"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) (*camera.Device, *fakecam.Camera) {
	t.Helper()
	fc := fakecam.New()
	dev, err := camera.Connect(fc)
	require.NoError(t, err)
	return dev, fc
}

func TestConnect(t *testing.T) {
	dev, _ := connect(t)
	require.Equal(t, camera.StateConnected, dev.State())
	require.True(t, dev.IsConnected())
	require.Equal(t, 2, dev.Info.APIMajor)
	require.Equal(t, 6, dev.Info.APIMinor)

	dev.Disconnect()
	require.Equal(t, camera.StateDisconnected, dev.State())
	require.False(t, dev.IsConnected())

	_, err := dev.Execute("return 1", nil)
	require.ErrorIs(t, err, camera.ErrNotConnected)
}

func TestList(t *testing.T) {
	fc := fakecam.New()
	infos := camera.List([]camera.Dialer{fc})
	require.Len(t, infos, 1)
	require.Equal(t, "FakeCam A000", infos[0].ModelName)
	require.Equal(t, 2, infos[0].APIMajor)
	require.Equal(t, 6, infos[0].APIMinor)
}

func TestReconnect(t *testing.T) {
	dev, _ := connect(t)
	require.NoError(t, dev.Reconnect(time.Millisecond, true))
	require.True(t, dev.IsConnected())
}

func TestReboot(t *testing.T) {
	dev, fc := connect(t)
	require.NoError(t, dev.SwitchMode(camera.ModeRecord))

	require.NoError(t, dev.Reboot(time.Millisecond, ""))
	require.True(t, dev.IsConnected())

	// the reboot script slept once before restarting
	require.Equal(t, 1, fc.SleepCalls)

	// a restart always comes back in play mode
	mode, err := dev.Mode()
	require.NoError(t, err)
	require.Equal(t, camera.ModePlay, mode)

	require.NoError(t, dev.Reboot(time.Millisecond, "boot.lua"))
	require.True(t, dev.IsConnected())
}

func TestExecute(t *testing.T) {
	dev, _ := connect(t)

	vals, err := dev.Execute("return 1+1", nil)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	require.EqualValues(t, 2, vals[0].Int())

	// a bare expression is promoted to a return statement
	vals, err = dev.Execute("2+2", nil)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	require.EqualValues(t, 4, vals[0].Int())

	// a multi-statement script without return is rejected locally
	_, err = dev.Execute("x = 1; y = 2", nil)
	require.ErrorIs(t, err, camera.ErrValidation)

	// multiple return values
	vals, err = dev.Execute("return true, 'two', nil", nil)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.True(t, vals[0].Bool())
	require.Equal(t, "two", vals[1].String())

	// table returns travel as serialized literals
	vals, err = dev.Execute("return { answer = 42, ok = true }", nil)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	require.EqualValues(t, 42, vals[0].Get("answer").Int())
	require.True(t, vals[0].Get("ok").Bool())
}

func TestExecuteErrors(t *testing.T) {
	dev, _ := connect(t)

	var serr *camera.ScriptError
	_, err := dev.Execute("return ((", nil)
	require.ErrorAs(t, err, &serr)

	_, err = dev.Execute("return foo()", nil)
	require.ErrorAs(t, err, &serr)
	require.NotEmpty(t, serr.Msg)
}

func TestMessages(t *testing.T) {
	dev, fc := connect(t)

	vals, err := dev.Execute("write_usb_msg('hello') return 42", nil)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	require.EqualValues(t, 42, vals[0].Int())

	require.NoError(t, dev.SendMessage("ping", 0))
	require.Equal(t, []string{"ping"}, fc.Inbox())

	vals, err = dev.Execute("return read_usb_msg()", nil)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	require.Equal(t, "ping", vals[0].String())
}

func TestKillScripts(t *testing.T) {
	dev, _ := connect(t)
	require.NoError(t, dev.KillScripts(true))
}

func TestModeSwitch(t *testing.T) {
	dev, _ := connect(t)

	mode, err := dev.Mode()
	require.NoError(t, err)
	require.Equal(t, camera.ModePlay, mode)

	require.NoError(t, dev.SwitchMode(camera.ModeRecord))
	mode, err = dev.Mode()
	require.NoError(t, err)
	require.Equal(t, camera.ModeRecord, mode)

	// a no-op when already there
	require.NoError(t, dev.SwitchMode(camera.ModeRecord))

	require.NoError(t, dev.SwitchMode(camera.ModePlay))
	require.ErrorIs(t, dev.SwitchMode("movie"), camera.ErrValidation)
}

func TestModeSwitchTimeout(t *testing.T) {
	dev, fc := connect(t)
	fc.StickyMode = true

	err := dev.SwitchMode(camera.ModeRecord)
	require.ErrorIs(t, err, camera.ErrModeSwitch)
	require.ErrorIs(t, err, camera.ErrTimeout)

	// the confirmation poll runs on the camera: 10ms, 300 attempts
	require.Equal(t, 300, fc.SleepCalls)
}

func TestFiles(t *testing.T) {
	dev, _ := connect(t)

	local := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello camera"), 0644))

	// a directory target gets the basename appended
	require.NoError(t, dev.UploadFile(local, "DCIM", false))

	st, err := dev.Stat("DCIM/note.txt")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.False(t, st.IsDir)
	require.EqualValues(t, 12, st.Size)

	data, err := dev.DownloadFile("DCIM/note.txt", "")
	require.NoError(t, err)
	require.Equal(t, []byte("hello camera"), data)

	entries, err := dev.ListFiles("DCIM", true)
	require.NoError(t, err)
	require.Len(t, entries, 2) // 100CANON and note.txt
	paths := []string{entries[0].Path, entries[1].Path}
	require.Contains(t, paths, "A/DCIM/note.txt")
	require.Contains(t, paths, "A/DCIM/100CANON")

	require.NoError(t, dev.DeleteFiles("DCIM/note.txt"))
	st, err = dev.Stat("DCIM/note.txt")
	require.NoError(t, err)
	require.Nil(t, st)

	// uploading a directory is refused
	require.ErrorIs(t, dev.UploadFile(t.TempDir(), "x", false), camera.ErrValidation)

	// missing remote file
	_, err = dev.DownloadFile("no/such/file", "")
	var perr *camera.PTPError
	require.ErrorAs(t, err, &perr)
}

func TestMkdirAll(t *testing.T) {
	dev, _ := connect(t)

	require.NoError(t, dev.MkdirAll("foo/bar/baz"))
	st, err := dev.Stat("foo/bar/baz")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.True(t, st.IsDir)
}

func TestBatchTransfer(t *testing.T) {
	dev, _ := connect(t)

	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("aaa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("bbbb"), 0644))

	require.NoError(t, dev.BatchUpload([]string{src}, "up"))

	st, err := dev.Stat("up/src/sub/b.txt")
	require.NoError(t, err)
	require.NotNil(t, st)
	require.EqualValues(t, 4, st.Size)

	dst := t.TempDir()
	require.NoError(t, dev.BatchDownload([]string{"up"}, dst, true))

	data, err := os.ReadFile(filepath.Join(dst, "up", "src", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("aaa"), data)
	data, err = os.ReadFile(filepath.Join(dst, "up", "src", "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("bbbb"), data)
}

func TestShootStreamingJPEG(t *testing.T) {
	dev, _ := connect(t)
	require.NoError(t, dev.SwitchMode(camera.ModeRecord))

	data, err := dev.Shoot(camera.DefaultCaptureOptions())
	require.NoError(t, err)
	require.Equal(t, fakecam.JPEGBytes(), data)
	require.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}))
}

func TestShootStreamingRequiresRecord(t *testing.T) {
	dev, _ := connect(t)

	_, err := dev.Shoot(camera.DefaultCaptureOptions())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not in rec mode")
}

func TestShootStreamingDNG(t *testing.T) {
	dev, _ := connect(t)
	require.NoError(t, dev.SwitchMode(camera.ModeRecord))

	opts := camera.DefaultCaptureOptions()
	opts.DNG = true
	data, err := dev.Shoot(opts)
	require.NoError(t, err)

	// header first, then a thumbnail before each raw segment
	header := []byte("DNGHDR--fake-header-segment")
	want := append([]byte(nil), header...)
	want = append(want, bytes.Repeat([]byte{0x11}, 128)...)
	want = append(want, bytes.Repeat([]byte{0x11}, 256)...)
	want = append(want, bytes.Repeat([]byte{0x22}, 128)...)
	want = append(want, bytes.Repeat([]byte{0x22}, 256)...)
	require.Equal(t, want, data)
}

func TestShootToStorage(t *testing.T) {
	dev, _ := connect(t)

	opts := camera.DefaultCaptureOptions()
	opts.Stream = false
	opts.DownloadAfter = true
	opts.RemoveAfter = true
	data, err := dev.Shoot(opts)
	require.NoError(t, err)
	require.Equal(t, fakecam.JPEGBytes(), data)

	// removed after download
	st, err := dev.Stat("DCIM/100CANON/IMG_0001.JPG")
	require.NoError(t, err)
	require.Nil(t, st)
}

func TestShootNoWait(t *testing.T) {
	dev, _ := connect(t)

	opts := camera.CaptureOptions{Wait: false}
	data, err := dev.Shoot(opts)
	require.NoError(t, err)
	require.Nil(t, data)

	st, err := dev.Stat("DCIM/100CANON/IMG_0001.JPG")
	require.NoError(t, err)
	require.NotNil(t, st)
}

func TestShootValidation(t *testing.T) {
	dev, _ := connect(t)

	iso := 100.0
	mode := 2
	opts := camera.DefaultCaptureOptions()
	opts.RealISO = &iso
	opts.ISOMode = &mode
	_, err := dev.Shoot(opts)
	require.ErrorIs(t, err, camera.ErrValidation)

	opts = camera.CaptureOptions{Wait: true, DNG: true, DownloadAfter: true}
	_, err = dev.Shoot(opts)
	require.ErrorIs(t, err, camera.ErrNotImplemented)
}

func TestFramesPPM(t *testing.T) {
	dev, _ := connect(t)

	frames, err := dev.Frames(camera.FormatPPM, nil)
	require.NoError(t, err)

	frame, err := frames.Next()
	require.NoError(t, err)

	// viewport is 64x48, ppm defaults to aspect corrected output
	header := []byte("P6\n32\n48\n255\n")
	require.True(t, bytes.HasPrefix(frame, header))
	require.Len(t, frame, len(header)+32*48*3)

	// neutral chroma decodes to gray
	pix := frame[len(header):]
	require.EqualValues(t, 128, pix[0])
	require.EqualValues(t, 128, pix[1])
	require.EqualValues(t, 128, pix[2])
}

func TestFramesEncoded(t *testing.T) {
	dev, _ := connect(t)

	frames, err := dev.Frames(camera.FormatJPEG, nil)
	require.NoError(t, err)
	frame, err := frames.Next()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(frame, []byte{0xFF, 0xD8}))

	frames, err = dev.Frames(camera.FormatPNG, nil)
	require.NoError(t, err)
	frame, err = frames.Next()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(frame, []byte{0x89, 'P', 'N', 'G'}))

	_, err = dev.Frames("gif", nil)
	require.ErrorIs(t, err, camera.ErrUnsupportedFormat)
}

func TestPTPErrorUnwrap(t *testing.T) {
	err := &camera.PTPError{Msg: "boom", Code: 0x2019}
	require.Contains(t, err.Error(), "0x2019")
	require.False(t, errors.Is(err, camera.ErrValidation))
}
