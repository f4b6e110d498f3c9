package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/openchdk/gochdk/pkg/chdk"
)

// Live view frame formats
const (
	FormatPPM  = "ppm"
	FormatJPEG = "jpg"
	FormatPNG  = "png"
)

// FrameReader is an unbounded lazy sequence of live view frames. Each
// Frames call opens a fresh sequence, the caller terminates it by
// ceasing consumption.
type FrameReader struct {
	dev    *Device
	format string
	scaled bool
}

// Frames starts pulling viewport frames. scaled corrects the aspect
// ratio at decode time, trading fidelity for speed; nil defaults to
// true only for the ppm format.
func (d *Device) Frames(format string, scaled *bool) (*FrameReader, error) {
	switch format {
	case FormatPPM, FormatJPEG, FormatPNG:
	default:
		return nil, fmt.Errorf("%w: %q is not one of ppm, jpg or png", ErrUnsupportedFormat, format)
	}

	s := format == FormatPPM
	if scaled != nil {
		s = *scaled
	}
	return &FrameReader{dev: d, format: format, scaled: s}, nil
}

// Next fetches and encodes one frame.
func (r *FrameReader) Next() ([]byte, error) {
	if r.dev.conn == nil {
		return nil, ErrNotConnected
	}

	buf, err := r.dev.conn.GetLiveData(chdk.LiveViewport)
	if err != nil {
		return nil, r.dev.wrapConnErr(err)
	}
	frame, err := chdk.ParseLiveFrame(buf)
	if err != nil {
		return nil, err
	}
	w, h, pix, err := frame.RGB(r.scaled)
	if err != nil {
		return nil, err
	}

	if r.format == FormatPPM {
		header := fmt.Sprintf("P6\n%d\n%d\n%d\n", w, h, 255)
		return append([]byte(header), pix...), nil
	}
	return encodeRaster(r.format, w, h, pix)
}

// encodeRaster re-encodes the decoded raster, halving the width during
// resampling.
func encodeRaster(format string, w, h int, pix []byte) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, w/2, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			src := (y*w + x*2) * 3
			off := dst.PixOffset(x, y)
			dst.Pix[off] = pix[src]
			dst.Pix[off+1] = pix[src+1]
			dst.Pix[off+2] = pix[src+2]
			dst.Pix[off+3] = 255
		}
	}

	var out bytes.Buffer
	var err error
	if format == FormatPNG {
		err = png.Encode(&out, dst)
	} else {
		err = jpeg.Encode(&out, dst, nil)
	}
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
