package camera

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDistance(t *testing.T) {
	for s, mm := range map[string]int64{
		"100":  100,
		"0":    0,
		"10mm": 10,
		"2cm":  200,
		"1.5m": 1500,
		"1ft":  305,
		"2in":  51,
		"1.4":  1,
		"1.5":  2,
	} {
		v, err := parseDistance(s)
		require.NoError(t, err, s)
		require.Equal(t, mm, v, s)
	}

	for _, s := range []string{"12km", "abc", "mm", "-5mm"} {
		_, err := parseDistance(s)
		require.ErrorIs(t, err, ErrValidation, s)
	}
}

func TestCaptureOptionsValidate(t *testing.T) {
	opts := DefaultCaptureOptions()
	require.NoError(t, opts.Validate())

	iso := 100.0
	mode := 2

	opts = DefaultCaptureOptions()
	opts.RealISO = &iso
	require.NoError(t, opts.Validate())

	opts.ISOMode = &mode
	require.ErrorIs(t, opts.Validate(), ErrValidation)

	opts = DefaultCaptureOptions()
	opts.MarketISO = &iso
	opts.ISOMode = &mode
	require.ErrorIs(t, opts.Validate(), ErrValidation)

	opts = DefaultCaptureOptions()
	opts.Distance = "12km"
	require.ErrorIs(t, opts.Validate(), ErrValidation)

	opts = DefaultCaptureOptions()
	opts.Wait = false
	require.ErrorIs(t, opts.Validate(), ErrValidation)

	opts = CaptureOptions{Wait: false, DownloadAfter: true}
	require.ErrorIs(t, opts.Validate(), ErrValidation)

	opts = CaptureOptions{Wait: true, DNG: true, DownloadAfter: true}
	require.ErrorIs(t, opts.Validate(), ErrNotImplemented)

	// fire and forget is fine
	opts = CaptureOptions{Wait: false}
	require.NoError(t, opts.Validate())
}

func TestCaptureOptionsEncode(t *testing.T) {
	opts := DefaultCaptureOptions()
	rec := opts.encode()
	require.EqualValues(t, fformatJPEG, rec.Get("fformat").Int())
	require.False(t, rec.Get("info").Truthy())

	opts.Raw = true
	require.EqualValues(t, fformatRaw, opts.encode().Get("fformat").Int())

	opts.DNG = true
	rec = opts.encode()
	require.EqualValues(t, fformatDNG, rec.Get("fformat").Int())
	require.EqualValues(t, 1, rec.Get("dng").Int())
	require.EqualValues(t, 1, rec.Get("raw").Int())

	nd := true
	opts = CaptureOptions{Wait: true, NDFilter: &nd, Distance: "1m"}
	rec = opts.encode()
	require.EqualValues(t, 1, rec.Get("nd").Int())
	require.EqualValues(t, 1000, rec.Get("sd").Int())
	require.True(t, rec.Get("info").Bool())

	nd = false
	require.EqualValues(t, 2, opts.encode().Get("nd").Int())
}

func TestToCameraPath(t *testing.T) {
	require.Equal(t, "A/DCIM", ToCameraPath("DCIM"))
	require.Equal(t, "A/DCIM", ToCameraPath("A/DCIM"))
	require.Equal(t, "a/DCIM", ToCameraPath("a/DCIM"))
	require.Equal(t, ToCameraPath("DCIM"), ToCameraPath(ToCameraPath("DCIM")))
	require.Equal(t, "A/", ToCameraPath(""))
}

func TestDNGAssembler(t *testing.T) {
	var asm dngAssembler
	asm.SetHeader([]byte("HDR"))
	asm.AddPair([]byte("t1"), []byte("r1"))
	asm.AddPair([]byte("t2"), []byte("r2"))
	require.Equal(t, []byte("HDRt1r1t2r2"), asm.Bytes())
}

func TestStreamBuffer(t *testing.T) {
	var b streamBuffer
	require.NoError(t, b.Write([]byte("abcd")))
	require.NoError(t, b.Write([]byte("ef")))
	require.Equal(t, []byte("abcdef"), b.Bytes())

	// an absolute offset rewrites and repositions
	require.NoError(t, b.WriteAt([]byte("XY"), 1))
	require.NoError(t, b.Write([]byte("Z")))
	require.Equal(t, []byte("aXYZef"), b.Bytes())

	// corrupt offsets must not grow the buffer
	require.Error(t, b.WriteAt([]byte("x"), maxCaptureSize))
	require.Error(t, b.WriteAt([]byte("x"), -1))
	require.Equal(t, []byte("aXYZef"), b.Bytes())
}
